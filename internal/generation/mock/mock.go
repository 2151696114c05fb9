// Package mock is a deterministic generation backend for local runs and tests.
package mock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/gabriel-vasile/mimetype"

	"github.com/cuongbtq/asset-forge/internal/domain"
)

// Backend renders a small solid PNG whose color is derived from the prompt
// and a placeholder MP4 container for videos.
type Backend struct {
	Size int
}

// New creates a Backend producing size x size images
func New(size int) *Backend {
	if size <= 0 {
		size = 64
	}
	return &Backend{Size: size}
}

func (b *Backend) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(prompt))
	img := image.NewNRGBA(image.Rect(0, 0, b.Size, b.Size))
	c := color.NRGBA{R: sum[0], G: sum[1], B: sum[2], A: 0xff}
	for y := 0; y < b.Size; y++ {
		for x := 0; x < b.Size; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode mock image: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *Backend) GenerateVideo(ctx context.Context, prompt string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return placeholderMP4(prompt), nil
}

func (b *Backend) GenerateVideoFromImage(ctx context.Context, prompt string, image []byte, _ string) ([]byte, error) {
	if len(image) == 0 {
		return nil, domain.NewValidationError("source image is empty")
	}
	return b.GenerateVideo(ctx, prompt)
}

// Describe reports the detected media type and size of the bytes.
func (b *Backend) Describe(ctx context.Context, data []byte, mediaType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if mediaType == "" {
		mediaType = mimetype.Detect(data).String()
	}
	return fmt.Sprintf("A generated %s asset of %d bytes.", mediaType, len(data)), nil
}

// placeholderMP4 is an ftyp box followed by a free box carrying the prompt,
// enough for content sniffing to classify it as video/mp4.
func placeholderMP4(prompt string) []byte {
	var buf bytes.Buffer
	ftyp := []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'm', 'p', '4', '1'}
	buf.Write(ftyp)
	payload := []byte(prompt)
	size := uint32(8 + len(payload))
	buf.Write([]byte{byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size), 'f', 'r', 'e', 'e'})
	buf.Write(payload)
	return buf.Bytes()
}

var (
	_ domain.Generator = (*Backend)(nil)
	_ domain.Describer = (*Backend)(nil)
)
