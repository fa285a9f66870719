// Package params describes a single placeholder image: its size, colors,
// output format and the extra arguments that change its content.
package params

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MinSize = 1
	MaxSize = 5000

	DefaultDPI  = 72
	DefaultFont = "go"
)

// ErrInvalid is returned for request values that fall outside what the
// generator accepts.
var ErrInvalid = errors.New("invalid parameter")

type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	WEBP Format = "webp"
	GIF  Format = "gif"
)

var formats = []Format{PNG, JPEG, WEBP, GIF}

// ParseFormat normalizes a format name ("jpg" becomes jpeg) and rejects
// anything outside the supported set.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "jpg" {
		s = string(JPEG)
	}
	for _, f := range formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported format %q", ErrInvalid, s)
}

// Formats lists the supported output formats.
func Formats() []Format {
	out := make([]Format, len(formats))
	copy(out, formats)
	return out
}

func (f Format) String() string {
	return string(f)
}

// Ext is the file extension used for cached files of this format.
func (f Format) Ext() string {
	return string(f)
}

func (f Format) ContentType() string {
	return "image/" + string(f)
}

// SupportsAlpha reports whether the encoded image keeps an alpha channel.
func (f Format) SupportsAlpha() bool {
	return f != JPEG
}

// Args are the modifiers applied on top of a solid background.
type Args struct {
	Alpha      float64
	Text       *string
	Font       string
	DPI        int
	Debug      bool
	Seed       *int64
	RandomText bool
}

// DefaultArgs returns the arguments used when a caller sets none.
func DefaultArgs() Args {
	return Args{
		Alpha: 1,
		Font:  DefaultFont,
		DPI:   DefaultDPI,
	}
}

// Tuple renders the arguments in their fixed declared order. Cache keys are
// derived from it, so the order must never change.
func (a Args) Tuple() []any {
	var text any
	if a.Text != nil {
		text = *a.Text
	}
	var seed any
	if a.Seed != nil {
		seed = *a.Seed
	}
	return []any{a.Alpha, text, a.Font, a.DPI, a.Debug, seed, a.RandomText}
}

// Tiling splits the image into a grid of colored cells.
type Tiling struct {
	Columns int
	Rows    int
}

// Request is an already validated generation request.
type Request struct {
	Width      int
	Height     int
	Background string
	Foreground string
	Format     Format
	Args       Args
	Tiling     *Tiling
}

// Extra is the full extra argument tuple, including the tiling dimensions
// for tiled requests.
func (r Request) Extra() []any {
	extra := r.Args.Tuple()
	if r.Tiling != nil {
		extra = append(extra, r.Tiling.Columns, r.Tiling.Rows)
	}
	return extra
}

// HasText reports whether text will be drawn onto the image.
func (r Request) HasText() bool {
	return r.Args.Text != nil && *r.Args.Text != "" && r.Format.SupportsAlpha()
}

// Validate checks the bounds the core relies on but never re-checks.
func (r Request) Validate() error {
	if r.Width < MinSize || r.Width > MaxSize || r.Height < MinSize || r.Height > MaxSize {
		return fmt.Errorf("%w: size %dx%d outside [%d, %d]", ErrInvalid, r.Width, r.Height, MinSize, MaxSize)
	}
	if _, err := ParseFormat(string(r.Format)); err != nil {
		return err
	}
	if r.Args.Alpha < 0 || r.Args.Alpha > 1 {
		return fmt.Errorf("%w: alpha %v outside [0, 1]", ErrInvalid, r.Args.Alpha)
	}
	if r.Args.DPI <= 0 {
		return fmt.Errorf("%w: dpi must be positive", ErrInvalid)
	}
	if r.Tiling != nil && (r.Tiling.Columns < 1 || r.Tiling.Rows < 1 ||
		r.Tiling.Columns > r.Width || r.Tiling.Rows > r.Height) {
		return fmt.Errorf("%w: tiling %dx%d does not fit %dx%d", ErrInvalid, r.Tiling.Columns, r.Tiling.Rows, r.Width, r.Height)
	}
	return nil
}
