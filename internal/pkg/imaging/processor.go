package imaging

import (
	"bytes"
	"errors"
	"fmt"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ErrNotAnImage is returned when the payload does not decode as an image.
var ErrNotAnImage = errors.New("payload is not a decodable image")

// Config for image processing
type Config struct {
	MaxWidth  int // results wider than this are scaled down (0 = no limit)
	MaxHeight int
}

// DefaultConfig returns default processing config
func DefaultConfig() Config {
	return Config{MaxWidth: 4096, MaxHeight: 4096}
}

// Result is a normalized PNG.
type Result struct {
	PNG    []byte
	Width  int
	Height int
}

// Processor decodes provider output and re-encodes it as PNG so the stored
// object always matches its .png key and image/png content type.
type Processor struct {
	config Config
}

// NewProcessor creates image processor
func NewProcessor(config Config) *Processor {
	return &Processor{config: config}
}

// NormalizePNG decodes data (honouring EXIF orientation), bounds its size
// and encodes it as PNG.
func (p *Processor) NormalizePNG(data []byte) (*Result, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}

	bounds := img.Bounds()
	if (p.config.MaxWidth > 0 && bounds.Dx() > p.config.MaxWidth) ||
		(p.config.MaxHeight > 0 && bounds.Dy() > p.config.MaxHeight) {
		img = imaging.Fit(img, p.config.MaxWidth, p.config.MaxHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	out := img.Bounds()
	return &Result{PNG: buf.Bytes(), Width: out.Dx(), Height: out.Dy()}, nil
}
