package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder for DecodeConfig
	_ "image/png"  // register decoder for DecodeConfig
	"time"
)

// ErrUnsupportedImage is returned by [Decode] for data that is not a JPEG or
// PNG image.
var ErrUnsupportedImage = errors.New("frame: unsupported image format")

// Decode wraps encoded image bytes in a [Frame], reading only the image header
// to fill in the media type and dimensions. Only JPEG and PNG are accepted
// since those are what vision backends take as data URLs.
func Decode(data []byte, capturedAt time.Time) (*Frame, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	var mime string
	switch format {
	case "jpeg":
		mime = "image/jpeg"
	case "png":
		mime = "image/png"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, format)
	}
	return &Frame{
		Data:       data,
		MIMEType:   mime,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: capturedAt,
	}, nil
}
