// Package media turns uploaded pictures into the inline payload carried by a
// message record.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

const (
	// MaxEdge bounds the longer side of a stored picture.
	MaxEdge     = 1280
	JPEGQuality = 70
	// MaxUploadBytes caps what is read from an upload.
	MaxUploadBytes = 10 << 20
)

var ErrTooLarge = errors.New("image too large")

// Normalize decodes a JPEG, PNG, GIF, BMP or TIFF upload, applies its EXIF
// orientation, shrinks it to fit MaxEdge and re-encodes it as a JPEG at
// JPEGQuality. The result is base64 (standard alphabet).
func Normalize(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > MaxUploadBytes {
		return "", ErrTooLarge
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() > MaxEdge || b.Dy() > MaxEdge {
		img = imaging.Fit(img, MaxEdge, MaxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
