package artwork

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// GenerateRequest describes one cover image.
type GenerateRequest struct {
	Prompt string
	// Size is the WxH frame, e.g. "1024x1024".
	Size string
	// Format is the preferred artifact extension without the dot.
	Format string
}

// GeneratedImage is a provider result. Format may override the
// requested one when the provider only emits a single encoding.
type GeneratedImage struct {
	Data   []byte
	Format string
}

// Provider produces cover images. Implementations classify failures
// with the services markers so the retry policy can read them.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (GeneratedImage, error)
	Ping(ctx context.Context) error
	// Metered reports whether calls consume a paid request budget.
	Metered() bool
}

func parseSize(value string) (width, height int, err error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(value)), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("size %q not in WxH form", value)
	}
	width, werr := strconv.Atoi(parts[0])
	height, herr := strconv.Atoi(parts[1])
	if werr != nil || herr != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("size %q not in WxH form", value)
	}
	return width, height, nil
}
