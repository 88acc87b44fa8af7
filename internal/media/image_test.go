package media

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decode(t *testing.T, payload string) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestNormalizeShrinksLargeImages(t *testing.T) {
	out, err := Normalize(bytes.NewReader(pngOf(t, 2560, 1280)))
	require.NoError(t, err)

	b := decode(t, out).Bounds()
	assert.Equal(t, MaxEdge, b.Dx())
	assert.Equal(t, MaxEdge/2, b.Dy())
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	out, err := Normalize(bytes.NewReader(pngOf(t, 40, 30)))
	require.NoError(t, err)
	b := decode(t, out).Bounds()
	assert.Equal(t, 40, b.Dx())
	assert.Equal(t, 30, b.Dy())
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize(strings.NewReader("not an image"))
	require.Error(t, err)
}
