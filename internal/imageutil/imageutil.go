// Package imageutil decodes, validates and re-encodes images exchanged with
// the blob store and the diffusion backend.
package imageutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrInvalidImage marks data that does not decode as a supported image.
var ErrInvalidImage = errors.New("invalid image")

// Decode fully decodes r. Header-only checks accept truncated files, so the
// whole image is read.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", fmt.Errorf("%w: empty bounds", ErrInvalidImage)
	}
	return img, format, nil
}

// Validate reports whether data is a well-formed image.
func Validate(data []byte) error {
	_, _, err := Decode(bytes.NewReader(data))
	return err
}

// ValidateFile reports whether the file at path is a well-formed image.
func ValidateFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _, err = Decode(f)
	return err
}

// EncodePNG serializes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Fit scales img down so neither side exceeds maxSide, keeping aspect ratio.
// Images already within bounds (or maxSide <= 0) are returned unchanged.
func Fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}
	if w >= h {
		h = h * maxSide / w
		w = maxSide
	} else {
		w = w * maxSide / h
		h = maxSide
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// NormalizeFile decodes the image at src, fits it within maxSide and writes
// it to dst as PNG.
func NormalizeFile(src, dst string, maxSide int) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	img, _, err := Decode(f)
	f.Close()
	if err != nil {
		return err
	}
	b, err := EncodePNG(Fit(img, maxSide))
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o644)
}
