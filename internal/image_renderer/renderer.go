package image_renderer

import (
	"errors"
	"fmt"
	"image"
	imgcolor "image/color"
	"image/draw"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"holdpics/internal/color"
	"holdpics/internal/fonts"
	"holdpics/internal/params"
)

// ErrRender wraps every failure to turn a request into image bytes.
var ErrRender = errors.New("render failed")

const outlineWidth = 3

type Renderer struct {
	fonts  *fonts.Registry
	logger *zap.Logger
}

func New(registry *fonts.Registry, logger *zap.Logger) *Renderer {
	return &Renderer{
		fonts:  registry,
		logger: logger,
	}
}

// Render draws and encodes req. Nothing is written to disk.
func (r *Renderer) Render(req params.Request) ([]byte, error) {
	canvas, err := r.compose(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	data, err := r.encode(canvas, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	r.logger.Debug("Rendered image",
		zap.Int("width", req.Width),
		zap.Int("height", req.Height),
		zap.String("format", req.Format.String()),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

func (r *Renderer) compose(req params.Request) (*image.NRGBA, error) {
	bg, err := color.Parse(req.Background)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, req.Width, req.Height))

	// Step 1: background, either solid or a grid of cells.
	if req.Tiling != nil {
		fg, err := color.Parse(req.Foreground)
		if err != nil {
			return nil, fmt.Errorf("foreground: %w", err)
		}
		fillTiles(canvas, *req.Tiling, bg, fg, req.Args.Seed)
	} else {
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	}

	// Step 2: uniform alpha, applied before any text.
	if req.Args.Alpha < 1 {
		setAlpha(canvas, uint8(math.Round(req.Args.Alpha*255)))
	}

	// Step 3: text, never for formats without alpha.
	if req.HasText() {
		fg, err := color.Parse(req.Foreground)
		if err != nil {
			return nil, fmt.Errorf("foreground: %w", err)
		}
		if err := r.drawText(canvas, *req.Args.Text, req.Args.Font, fg, req.Args.Debug); err != nil {
			return nil, err
		}
	}

	return canvas, nil
}

func (r *Renderer) drawText(canvas *image.NRGBA, text, fontName string, fg imgcolor.NRGBA, debug bool) error {
	f, err := r.fonts.Get(fontName)
	if err != nil {
		return err
	}

	w, h := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	box := image.Pt(int(float64(w)*0.9), h)
	face, size, err := fonts.Fit(f, box, text)
	if err != nil {
		return err
	}

	origin := image.Pt(floorDiv(w-size.X, 2), floorDiv(h-size.Y, 2))

	layer := image.NewNRGBA(canvas.Bounds())
	if err := face.Draw(layer, origin, text, fg); err != nil {
		return err
	}
	if debug {
		outline := image.Rect(origin.X, origin.Y, floorDiv(w+size.X, 2), floorDiv(h+size.Y, 2))
		strokeRect(layer, outline, outlineWidth, imgcolor.NRGBA{A: 0xff})
	}

	draw.Draw(canvas, canvas.Bounds(), layer, image.Point{}, draw.Over)
	return nil
}

// fillTiles paints a columns x rows grid. Without a seed the cells alternate
// between bg and fg; with one every cell gets its own seeded random color.
func fillTiles(canvas *image.NRGBA, t params.Tiling, bg, fg imgcolor.NRGBA, seed *int64) {
	var rng *rand.Rand
	if seed != nil {
		rng = rand.New(rand.NewPCG(uint64(*seed), 0))
	}

	w, h := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	for row := 0; row < t.Rows; row++ {
		for col := 0; col < t.Columns; col++ {
			cell := image.Rect(col*w/t.Columns, row*h/t.Rows, (col+1)*w/t.Columns, (row+1)*h/t.Rows)

			c := bg
			switch {
			case rng != nil:
				c = imgcolor.NRGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 0xff}
			case (row+col)%2 == 1:
				c = fg
			}
			draw.Draw(canvas, cell, image.NewUniform(c), image.Point{}, draw.Src)
		}
	}
}

func setAlpha(img *image.NRGBA, a uint8) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = a
	}
}

func strokeRect(img draw.Image, r image.Rectangle, width int, c imgcolor.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e, src, image.Point{}, draw.Src)
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
