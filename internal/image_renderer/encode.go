package image_renderer

import (
	"fmt"
	"image"

	"github.com/cshum/vipsgen/vips"

	"holdpics/internal/params"
)

const mmPerInch = 25.4

// encode hands the composed pixels to libvips and saves them in the
// requested format.
func (r *Renderer) encode(img *image.NRGBA, req params.Request) ([]byte, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	pix, bands := img.Pix, 4
	if !req.Format.SupportsAlpha() {
		pix, bands = flatten(img), 3
	}

	image, err := vips.NewImageFromMemory(pix, w, h, bands)
	if err != nil {
		return nil, fmt.Errorf("failed to load pixels: %w", err)
	}
	defer image.Close()

	out := image
	if req.Format == params.PNG || req.Format == params.JPEG {
		if out, err = withResolution(image, req.Args.DPI); err != nil {
			return nil, err
		}
		defer out.Close()
	}

	switch req.Format {
	case params.PNG:
		opts := vips.DefaultPngsaveBufferOptions()
		opts.Compression = 9
		return exported(out.PngsaveBuffer(opts))
	case params.JPEG:
		opts := vips.DefaultJpegsaveBufferOptions()
		opts.OptimizeCoding = true
		opts.Interlace = false
		return exported(out.JpegsaveBuffer(opts))
	case params.WEBP:
		opts := vips.DefaultWebpsaveBufferOptions()
		opts.Q = 100
		opts.Effort = 6
		return exported(out.WebpsaveBuffer(opts))
	case params.GIF:
		opts := vips.DefaultGifsaveBufferOptions()
		opts.Effort = 10
		return exported(out.GifsaveBuffer(opts))
	default:
		return exported(out.PngsaveBuffer(vips.DefaultPngsaveBufferOptions()))
	}
}

func exported(data []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}
	return data, nil
}

// withResolution returns a copy of image carrying dpi in its header;
// libvips keeps resolution in pixels per millimetre. The caller closes it.
func withResolution(image *vips.Image, dpi int) (*vips.Image, error) {
	opts := vips.DefaultCopyOptions()
	if dpi > 0 {
		res := float64(dpi) / mmPerInch
		opts.Xres = res
		opts.Yres = res
	}

	out, err := image.Copy(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to set resolution: %w", err)
	}
	return out, nil
}

// flatten drops the alpha channel without blending, leaving packed RGB.
func flatten(img *image.NRGBA) []byte {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			out = append(out, row[x], row[x+1], row[x+2])
		}
	}
	return out
}
