// Package color normalizes and parses the color strings used in requests.
package color

import (
	"fmt"
	imgcolor "image/color"
	"math/rand/v2"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// RandomKeyword asks for a seeded random color instead of a fixed one.
const RandomKeyword = "rand"

// Resolve returns "#" + hex for 3 or 6 digit hex input, with or without a
// leading "#". Anything else is returned untouched so named colors reach the
// renderer as-is.
func Resolve(s string) string {
	c := strings.TrimPrefix(s, "#")
	if (len(c) == 3 || len(c) == 6) && isHex(c) {
		return "#" + c
	}
	return s
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Parse converts a resolved color string into an opaque NRGBA value.
func Parse(s string) (imgcolor.NRGBA, error) {
	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		if len(hex) == 3 {
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		}
		if len(hex) == 6 && isHex(hex) {
			v, err := strconv.ParseUint(hex, 16, 32)
			if err != nil {
				return imgcolor.NRGBA{}, fmt.Errorf("parse color %q: %w", s, err)
			}
			return imgcolor.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
		}
		return imgcolor.NRGBA{}, fmt.Errorf("unknown color %q", s)
	}

	named, ok := colornames.Map[strings.ToLower(s)]
	if !ok {
		return imgcolor.NRGBA{}, fmt.Errorf("unknown color %q", s)
	}
	return imgcolor.NRGBA{R: named.R, G: named.G, B: named.B, A: 0xff}, nil
}

// Random draws a 6 digit hex color, without "#", from rng.
func Random(rng *rand.Rand) string {
	return fmt.Sprintf("%02x%02x%02x", rng.IntN(256), rng.IntN(256), rng.IntN(256))
}

// IsRandom reports whether s asks for a random color.
func IsRandom(s string) bool {
	return strings.EqualFold(s, RandomKeyword)
}
