package media

import (
	"errors"
	"fmt"
	"math"

	"github.com/h2non/bimg"
)

// ErrUnsupportedImage is returned for anything but JPEG or PNG.
var ErrUnsupportedImage = errors.New("panorama must be a JPEG or PNG image")

// Info describes an uploaded panorama.
type Info struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Type   string `json:"type"`
	// Equirectangular reports a 2:1 aspect ratio, within 1%.
	Equirectangular bool `json:"equirectangular"`
}

// Inspect reads image metadata without decoding pixels.
func Inspect(data []byte) (Info, error) {
	md, err := bimg.NewImage(data).Metadata()
	if err != nil {
		return Info{}, fmt.Errorf("failed to read image metadata: %w", err)
	}
	if md.Type != "jpeg" && md.Type != "png" {
		return Info{}, fmt.Errorf("%w: got %s", ErrUnsupportedImage, md.Type)
	}
	info := Info{Width: md.Size.Width, Height: md.Size.Height, Type: md.Type}
	if info.Height > 0 {
		ratio := float64(info.Width) / float64(info.Height)
		info.Equirectangular = math.Abs(ratio-2) <= 0.02
	}
	return info, nil
}

// StripMetadata re-encodes a panorama in its own format without EXIF, so
// camera GPS and device details are not published.
func StripMetadata(data []byte, info Info) ([]byte, error) {
	typ := bimg.JPEG
	if info.Type == "png" {
		typ = bimg.PNG
	}
	out, err := bimg.NewImage(data).Process(bimg.Options{
		Type:          typ,
		Quality:       90,
		StripMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}
	return out, nil
}
