package persona

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"regexp"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// MaxImageBytes is the default upload limit, measured after base64 decoding
const MaxImageBytes = 16 * 1024 * 1024

var dataURLPrefix = regexp.MustCompile(`^data:image/\w+;base64,`)

var contentTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"webp": "image/webp",
}

// Image is a validated photo
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// DecodeImage decodes a base64 image, with or without a data URL prefix, and
// checks that it is a png, jpeg, gif, bmp or webp no larger than maxBytes.
// A non-positive maxBytes means MaxImageBytes.
func DecodeImage(encoded string, maxBytes int64) (*Image, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrImageRequired
	}
	if maxBytes <= 0 {
		maxBytes = MaxImageBytes
	}

	raw := dataURLPrefix.ReplaceAllString(encoded, "")
	if int64(base64.StdEncoding.DecodedLen(len(raw))) > maxBytes+2 {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrImageTooLarge, maxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64: %v", ErrInvalidImage, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrImageTooLarge, maxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if _, ok := contentTypes[format]; !ok {
		return nil, fmt.Errorf("%w: unsupported format %s", ErrInvalidImage, format)
	}

	return &Image{Data: data, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// ContentType returns the MIME type of the image
func (i *Image) ContentType() string {
	return contentTypes[i.Format]
}

// Extension returns the usual file extension, without a dot
func (i *Image) Extension() string {
	if i.Format == "jpeg" {
		return "jpg"
	}
	return i.Format
}

// DataURL re-encodes the image as a data URL for the provider request
func (i *Image) DataURL() string {
	return "data:" + i.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}
