// Package imaging normalizes uploaded document images before they are sent
// to the vision-language model: payloads stay small while keeping enough
// detail for code extraction.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"math"

	xdraw "golang.org/x/image/draw"
)

const (
	// maxPixels caps the normalized image at 2 megapixels.
	maxPixels = 2_000_000
	// jpegQuality is the re-encode quality for the VLM payload.
	jpegQuality = 85
)

// Normalize decodes an uploaded JPEG or PNG, flattens any alpha channel onto
// a white background, downscales the image so its area does not exceed
// maxPixels, and re-encodes it as JPEG. It returns the encoded bytes and the
// resulting MIME type (always image/jpeg).
func Normalize(data []byte) ([]byte, string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, "", fmt.Errorf("decoding image: empty bounds %dx%d", w, h)
	}

	if w*h > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(w*h))
		w = int(float64(w) * scale)
		h = int(float64(h) * scale)
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
	}

	// Flatten onto white; the JPEG encoder has no alpha channel.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}
