package persona

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: 120, B: uint8(y * 10), A: 255})
		}
	}
	return img
}

func pngBytes(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

func pngDataURL(t testing.TB, w, h int) string {
	t.Helper()
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, w, h))
}

func TestDecodeImage_Formats(t *testing.T) {
	encoders := map[string]func(*bytes.Buffer, image.Image) error{
		"png":  func(b *bytes.Buffer, img image.Image) error { return png.Encode(b, img) },
		"jpeg": func(b *bytes.Buffer, img image.Image) error { return jpeg.Encode(b, img, nil) },
		"gif":  func(b *bytes.Buffer, img image.Image) error { return gif.Encode(b, img, nil) },
		"bmp":  func(b *bytes.Buffer, img image.Image) error { return bmp.Encode(b, img) },
	}

	for format, encode := range encoders {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, encode(&buf, testImage(8, 6)))
			encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

			// Both the raw form and the data URL form are accepted
			for _, input := range []string{encoded, "data:image/" + format + ";base64," + encoded} {
				img, err := DecodeImage(input, 0)
				require.NoError(t, err)
				assert.Equal(t, format, img.Format)
				assert.Equal(t, 8, img.Width)
				assert.Equal(t, 6, img.Height)
				assert.Equal(t, buf.Bytes(), img.Data)
				assert.Equal(t, "image/"+format, img.ContentType())
			}
		})
	}
}

func TestDecodeImage_Errors(t *testing.T) {
	tiff := base64.StdEncoding.EncodeToString([]byte("II*\x00\x08\x00\x00\x00not really a tiff"))

	tests := []struct {
		name     string
		input    string
		maxBytes int64
		want     error
	}{
		{"empty", "", 0, ErrImageRequired},
		{"whitespace", "   ", 0, ErrImageRequired},
		{"bad base64", "data:image/png;base64,!!!not-base64!!!", 0, ErrInvalidImage},
		{"not an image", base64.StdEncoding.EncodeToString([]byte("hello world")), 0, ErrInvalidImage},
		{"unsupported format", tiff, 0, ErrInvalidImage},
		{"too large", pngDataURL(t, 32, 32), 64, ErrImageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeImage(tt.input, tt.maxBytes)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsClientError(err))
		})
	}
}

func TestDecodeImage_ExactLimit(t *testing.T) {
	data := pngBytes(t, 4, 4)
	encoded := base64.StdEncoding.EncodeToString(data)

	_, err := DecodeImage(encoded, int64(len(data)))
	assert.NoError(t, err)

	_, err = DecodeImage(encoded, int64(len(data)-1))
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestImage_DataURLAndExtension(t *testing.T) {
	img, err := DecodeImage(pngDataURL(t, 2, 2), 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(img.DataURL(), "data:image/png;base64,"))
	assert.Equal(t, "png", img.Extension())

	assert.Equal(t, "jpg", (&Image{Format: "jpeg"}).Extension())
}
