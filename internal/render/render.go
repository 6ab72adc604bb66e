// Package render draws subtitles into RGBA overlays and composites them
// onto decoded video frames.
package render

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/mgpai22/subsync/internal/subtitle"
)

// Renderer rasterizes doc at pts into a straight-alpha overlay of the
// given size.
type Renderer interface {
	Render(ctx context.Context, doc *subtitle.Document, width, height int, pts int64, aspect *big.Rat) (*image.NRGBA, error)
}

// SubtitleOverlay binds a renderer to a document source so it can be
// burned into screenshots.
type SubtitleOverlay struct {
	Renderer Renderer
	// Document is called once per render so edits show up immediately.
	Document func() *subtitle.Document
	Context  context.Context
}

func (o SubtitleOverlay) Render(width, height int, pts int64, aspect *big.Rat) (*image.NRGBA, error) {
	ctx := o.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return o.Renderer.Render(ctx, o.Document(), width, height, pts, aspect)
}

// Composite blends overlay onto dst in place using the overlay's alpha as
// the mask. Overlay pixels outside dst are ignored.
func Composite(dst *image.RGBA, overlay *image.NRGBA) {
	if overlay == nil {
		return
	}
	r := dst.Bounds().Intersect(overlay.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			si := overlay.PixOffset(x, y)
			a := uint32(overlay.Pix[si+3])
			if a == 0 {
				continue
			}
			di := dst.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				s := uint32(overlay.Pix[si+c])
				d := uint32(dst.Pix[di+c])
				dst.Pix[di+c] = uint8((s*a + d*(255-a) + 127) / 255)
			}
			da := uint32(dst.Pix[di+3])
			dst.Pix[di+3] = uint8(a + (da*(255-a)+127)/255)
		}
	}
}

// SaveImage writes img as PNG or JPEG depending on the extension of path.
func SaveImage(path string, img image.Image) (err error) {
	ext := strings.ToLower(filepath.Ext(path))
	var encode func(f *os.File) error
	switch ext {
	case ".png":
		encode = func(f *os.File) error { return png.Encode(f, img) }
	case ".jpg", ".jpeg":
		encode = func(f *os.File) error { return jpeg.Encode(f, img, &jpeg.Options{Quality: 95}) }
	default:
		return fmt.Errorf("unsupported image format: %s", ext)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := encode(f); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}
