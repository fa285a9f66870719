package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	keyDigestLen   = 32
	maxColorKeyLen = 16
)

// DeriveKey maps a full set of generation parameters to a stable key that is
// also a safe file name.
//
// Every field is written, in order, type tagged and length prefixed, into a
// SHA-256 digest so two tuples that differ anywhere get different keys. The
// readable prefix ({W}x{H}-{bg}-{fg}) only helps when browsing the cache
// directory.
func DeriveKey(width, height int, bg, fg, format string, extra []any) string {
	var b strings.Builder
	writeField(&b, width)
	writeField(&b, height)
	writeField(&b, bg)
	writeField(&b, fg)
	writeField(&b, format)
	writeField(&b, len(extra))
	for _, v := range extra {
		writeField(&b, v)
	}

	sum := sha256.Sum256([]byte(b.String()))
	digest := hex.EncodeToString(sum[:])[:keyDigestLen]

	return fmt.Sprintf("%dx%d-%s-%s-%s", width, height, colorKey(bg), colorKey(fg), digest)
}

func writeField(b *strings.Builder, v any) {
	s := serialize(v)
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

func serialize(v any) string {
	switch v := v.(type) {
	case nil:
		return "n"
	case string:
		return "s" + v
	case int:
		return "i" + strconv.Itoa(v)
	case int64:
		return "l" + strconv.FormatInt(v, 10)
	case float64:
		return "f" + strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "b1"
		}
		return "b0"
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

func colorKey(c string) string {
	c = strings.TrimPrefix(c, "#")
	out := make([]byte, 0, len(c))
	for i := 0; i < len(c) && len(out) < maxColorKeyLen; i++ {
		ch := c[i]
		switch {
		case ch >= '0' && ch <= '9', ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
			out = append(out, ch)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
