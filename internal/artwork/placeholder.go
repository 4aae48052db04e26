package artwork

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
)

// PlaceholderProvider renders a deterministic gradient card locally so
// the pipeline runs end to end without an image API. The same prompt
// always yields the same bytes.
type PlaceholderProvider struct{}

// NewPlaceholder builds the offline provider.
func NewPlaceholder() *PlaceholderProvider { return &PlaceholderProvider{} }

func (*PlaceholderProvider) Name() string { return "placeholder" }

func (*PlaceholderProvider) Metered() bool { return false }

func (*PlaceholderProvider) Ping(context.Context) error { return nil }

// Generate renders a vertical two-color gradient seeded by the prompt.
func (*PlaceholderProvider) Generate(_ context.Context, req GenerateRequest) (GeneratedImage, error) {
	width, height := 1024, 1024
	if req.Size != "" {
		var err error
		width, height, err = parseSize(req.Size)
		if err != nil {
			return GeneratedImage{}, fmt.Errorf("placeholder generate: %w", err)
		}
	}

	hash := fnv.New32a()
	hash.Write([]byte(req.Prompt))
	seed := hash.Sum32()
	top := color.NRGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255}
	bottom := color.NRGBA{R: uint8(seed >> 16), G: uint8(seed >> 24), B: uint8(seed), A: 255}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		t := 0.0
		if height > 1 {
			t = float64(y) / float64(height-1)
		}
		row := color.NRGBA{
			R: lerp(top.R, bottom.R, t),
			G: lerp(top.G, bottom.G, t),
			B: lerp(top.B, bottom.B, t),
			A: 255,
		}
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, row)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return GeneratedImage{}, fmt.Errorf("placeholder generate: encode: %w", err)
	}
	return GeneratedImage{Data: buf.Bytes(), Format: "png"}, nil
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
