// Package fonts loads TrueType/OpenType fonts once per name and picks the
// face size that makes a piece of text fit a box.
package fonts

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/gofont/gosmallcaps"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// ErrUnknownFont is returned for names that were never registered.
var ErrUnknownFont = errors.New("unknown font")

// Sizes is the ascending table of point sizes every font is loaded at.
var Sizes = []int{
	8, 9, 10, 11, 12, 14, 16, 18, 20, 22, 24, 26, 28, 32, 36, 40, 44, 48,
	54, 60, 66, 72, 80, 88, 96, 108, 120, 132, 144, 160, 176, 192, 208, 224,
	240, 256, 288,
}

// Face is one font at one point size. It is immutable; every Measure or
// Draw call builds its own font.Face, so a Face can be shared freely.
type Face struct {
	font *opentype.Font
	Size int
}

func (f *Face) open() (font.Face, error) {
	face, err := opentype.NewFace(f.font, &opentype.FaceOptions{
		Size:    float64(f.Size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face at %dpt: %w", f.Size, err)
	}
	return face, nil
}

// Measure returns the advance width and line height of text in pixels.
func (f *Face) Measure(text string) (image.Point, error) {
	face, err := f.open()
	if err != nil {
		return image.Point{}, err
	}
	defer face.Close()

	m := face.Metrics()
	return image.Point{
		X: font.MeasureString(face, text).Ceil(),
		Y: (m.Ascent + m.Descent).Ceil(),
	}, nil
}

// Draw renders text with its top-left corner at at.
func (f *Face) Draw(dst draw.Image, at image.Point, text string, c color.Color) error {
	face, err := f.open()
	if err != nil {
		return err
	}
	defer face.Close()

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(at.X), Y: fixed.I(at.Y) + face.Metrics().Ascent},
	}
	d.DrawString(text)
	return nil
}

// Font holds one Face per entry of the size table.
type Font struct {
	Name  string
	sizes []int
	faces []*Face
}

func (f *Font) Sizes() []int {
	return f.sizes
}

// Face returns the face at position idx of the size table.
func (f *Font) Face(idx int) *Face {
	return f.faces[idx]
}

type source func() ([]byte, error)

// Registry maps font names to fonts. Sources are registered up front; the
// font itself is parsed on first use and kept for the life of the registry.
type Registry struct {
	mu      sync.Mutex
	sizes   []int
	sources map[string]source
	loaded  map[string]*Font
	logger  *zap.Logger
}

// NewRegistry returns a registry that already knows the Go font family.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		sizes:   Sizes,
		sources: make(map[string]source),
		loaded:  make(map[string]*Font),
		logger:  logger,
	}

	builtin := map[string][]byte{
		"go":           goregular.TTF,
		"go-bold":      gobold.TTF,
		"go-italic":    goitalic.TTF,
		"go-medium":    gomedium.TTF,
		"go-mono":      gomono.TTF,
		"go-smallcaps": gosmallcaps.TTF,
	}
	for name, data := range builtin {
		r.Register(name, data)
	}
	return r
}

// Register adds a font from raw TTF/OTF data. Names are case-insensitive.
func (r *Registry) Register(name string, data []byte) {
	r.addSource(name, func() ([]byte, error) { return data, nil })
}

// RegisterFile adds a font read lazily from path.
func (r *Registry) RegisterFile(name, path string) {
	r.addSource(name, func() ([]byte, error) { return os.ReadFile(path) })
}

func (r *Registry) addSource(name string, src source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = strings.ToLower(name)
	r.sources[name] = src
	delete(r.loaded, name)
}

// LoadDir registers every .ttf and .otf file in dir under its lowercase base
// name and returns how many were found.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read font directory: %w", err)
	}

	n := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".ttf" && ext != ".otf" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		r.RegisterFile(name, filepath.Join(dir, entry.Name()))
		n++
	}

	if r.logger != nil {
		r.logger.Info("Registered fonts from directory", zap.String("dir", dir), zap.Int("count", n))
	}
	return n, nil
}

// Has reports whether name is registered, matching case exactly.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sources[name]
	return ok
}

// Names returns the registered font names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sizes returns the ascending point-size table shared by all fonts.
func (r *Registry) Sizes() []int {
	return r.sizes
}

// Get returns the loaded font, parsing it on first use.
func (r *Registry) Get(name string) (*Font, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = strings.ToLower(name)
	if f, ok := r.loaded[name]; ok {
		return f, nil
	}

	src, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFont, name)
	}

	data, err := src()
	if err != nil {
		return nil, fmt.Errorf("failed to read font %s: %w", name, err)
	}
	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font %s: %w", name, err)
	}

	f := &Font{Name: name, sizes: r.sizes, faces: make([]*Face, len(r.sizes))}
	for i, size := range r.sizes {
		f.faces[i] = &Face{font: parsed, Size: size}
	}
	r.loaded[name] = f

	if r.logger != nil {
		r.logger.Debug("Loaded font", zap.String("name", name), zap.Int("sizes", len(r.sizes)))
	}
	return f, nil
}
