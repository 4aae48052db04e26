package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Exit codes promised to scripts wrapping the CLI. Partial failure
// means the batch finished but recorded terminal stage failures;
// structural means the run aborted before completion.
const (
	exitOK             = 0
	exitPartialFailure = 2
	exitStructural     = 3
	exitInterrupted    = 130
)

// exitCodeError carries a specific exit code up to main.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }

func (e *exitCodeError) Unwrap() error { return e.err }

func errPartialFailure(failed, selected int) error {
	return &exitCodeError{
		code: exitPartialFailure,
		err:  fmt.Errorf("%d of %d entities failed; run `loom status` to inspect and `loom retry` to reprocess", failed, selected),
	}
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	var coded *exitCodeError
	if errors.As(err, &coded) {
		return coded.code
	}
	return exitStructural
}

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	if err == nil {
		return
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCodeFor(err))
}
