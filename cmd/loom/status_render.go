package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusNeutral statusKind = iota
	statusGood
	statusWarn
	statusBad
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiBold   = "\x1b[1m"
)

const statusLabelWidth = 20

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func statusColor(kind statusKind) string {
	switch kind {
	case statusGood:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusBad:
		return ansiRed
	default:
		return ""
	}
}

func renderStatusLine(w io.Writer, label, value string, kind statusKind) {
	padded := label
	if len(padded) < statusLabelWidth {
		padded += strings.Repeat(" ", statusLabelWidth-len(padded))
	}
	if color := statusColor(kind); color != "" && shouldColorize(w) {
		fmt.Fprintf(w, "%s %s%s%s\n", padded, color, value, ansiReset)
		return
	}
	fmt.Fprintf(w, "%s %s\n", padded, value)
}

func renderSectionHeader(w io.Writer, title string) {
	if shouldColorize(w) {
		fmt.Fprintf(w, "\n%s%s%s\n", ansiBold, title, ansiReset)
		return
	}
	fmt.Fprintf(w, "\n%s\n", title)
}
