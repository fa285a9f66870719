package http

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"

	"holdpics/internal/color"
	"holdpics/internal/generator"
	"holdpics/internal/params"
)

const (
	DefaultBackground = "#ddd"
	DefaultForeground = "#000"
)

// fontRedirect is returned when the font only differs from a registered one
// by case.
type fontRedirect struct {
	font string
}

func (e *fontRedirect) Error() string {
	return "font redirect to " + e.font
}

// imageQuery is everything read from the query string besides the request.
type imageQuery struct {
	filename string
}

// parseImagePath reads {size}[/{bg}[/{fg}]][/{fmt}].
func parseImagePath(parts []string) (w, h int, bg, fg string, format params.Format, err error) {
	if len(parts) == 0 || parts[0] == "" {
		return 0, 0, "", "", "", fmt.Errorf("%w: missing size", params.ErrInvalid)
	}
	if w, h, err = params.ParseSize(parts[0]); err != nil {
		return 0, 0, "", "", "", err
	}

	rest := parts[1:]
	format = params.PNG
	if len(rest) > 0 {
		if f, ferr := params.ParseFormat(rest[len(rest)-1]); ferr == nil {
			format = f
			rest = rest[:len(rest)-1]
		}
	}
	if len(rest) > 2 {
		return 0, 0, "", "", "", fmt.Errorf("%w: too many path segments", params.ErrInvalid)
	}

	bg, fg = DefaultBackground, DefaultForeground
	if len(rest) > 0 {
		bg = rest[0]
	}
	if len(rest) > 1 {
		fg = rest[1]
	}
	if err := checkColor(bg); err != nil {
		return 0, 0, "", "", "", err
	}
	if err := checkColor(fg); err != nil {
		return 0, 0, "", "", "", err
	}
	return w, h, bg, fg, format, nil
}

func checkColor(c string) error {
	if color.IsRandom(c) {
		return nil
	}
	if _, err := color.Parse(color.Resolve(c)); err != nil {
		return fmt.Errorf("%w: %w", params.ErrInvalid, err)
	}
	return nil
}

// parseArgs reads the query string into request arguments.
func (h *Handlers) parseArgs(q url.Values) (params.Args, imageQuery, error) {
	args := params.DefaultArgs()
	args.Font = h.config.DefaultFont
	var extra imageQuery

	if text := q.Get("text"); text != "" {
		args.Text = &text
	}

	if name := q.Get("font"); name != "" {
		if !h.fonts.Has(name) {
			if lower := strings.ToLower(name); h.fonts.Has(lower) {
				return args, extra, &fontRedirect{font: lower}
			}
			return args, extra, fmt.Errorf("%w: unknown font %q", params.ErrInvalid, name)
		}
		args.Font = name
	}

	if v := q.Get("alpha"); v != "" {
		alpha, err := strconv.ParseFloat(v, 64)
		if err != nil || alpha < 0 || alpha > 1 {
			return args, extra, fmt.Errorf("%w: alpha must be a number in [0, 1]", params.ErrInvalid)
		}
		args.Alpha = alpha
	}

	if v := q.Get("dpi"); v != "" {
		dpi, err := strconv.Atoi(v)
		if err != nil || dpi <= 0 {
			return args, extra, fmt.Errorf("%w: dpi must be a positive integer", params.ErrInvalid)
		}
		args.DPI = dpi
	}

	var err error
	if args.Debug, err = queryBool(q, "debug"); err != nil {
		return args, extra, err
	}
	if args.RandomText, err = queryBool(q, "random_text"); err != nil {
		return args, extra, err
	}

	if v := q.Get("seed"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return args, extra, fmt.Errorf("%w: seed must be an integer", params.ErrInvalid)
		}
		args.Seed = &seed
	}

	extra.filename = q.Get("filename")
	return args, extra, nil
}

// queryBool treats a bare "?debug" as true.
func queryBool(q url.Values, key string) (bool, error) {
	if _, ok := q[key]; !ok {
		return false, nil
	}
	v := q.Get(key)
	if v == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", params.ErrInvalid, key)
	}
	return b, nil
}

// seedIfRandom gives requests with random inputs a seed when the caller did
// not pick one, so the seed ends up in the cache key.
func seedIfRandom(req params.Request) params.Request {
	if req.Args.Seed == nil && generator.NeedsSeed(req) {
		seed := rand.Int64()
		req.Args.Seed = &seed
	}
	return req
}

func attachmentName(filename string, format params.Format) string {
	if !strings.HasSuffix(filename, "."+format.Ext()) {
		filename += "." + format.Ext()
	}
	return filename
}
