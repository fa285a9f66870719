package cache

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseExtra() []any {
	return []any{1.0, nil, "go", 72, false, nil, false}
}

func TestDeriveKeyIsStable(t *testing.T) {
	a := DeriveKey(64, 64, "#fff", "#000", "png", baseExtra())
	b := DeriveKey(64, 64, "#fff", "#000", "png", baseExtra())
	assert.Equal(t, a, b)

	// Pinned so a change to the serialization is noticed: keys must survive
	// restarts and upgrades.
	assert.True(t, strings.HasPrefix(a, "64x64-fff-000-"), a)
	assert.Len(t, strings.TrimPrefix(a, "64x64-fff-000-"), keyDigestLen)
}

func TestDeriveKeyDiffersOnEveryField(t *testing.T) {
	base := DeriveKey(64, 64, "#fff", "#000", "png", baseExtra())

	variants := map[string]string{
		"width":  DeriveKey(65, 64, "#fff", "#000", "png", baseExtra()),
		"height": DeriveKey(64, 65, "#fff", "#000", "png", baseExtra()),
		"bg":     DeriveKey(64, 64, "#ffe", "#000", "png", baseExtra()),
		"fg":     DeriveKey(64, 64, "#fff", "#001", "png", baseExtra()),
		"format": DeriveKey(64, 64, "#fff", "#000", "gif", baseExtra()),
		"alpha":  DeriveKey(64, 64, "#fff", "#000", "png", []any{0.5, nil, "go", 72, false, nil, false}),
		"text":   DeriveKey(64, 64, "#fff", "#000", "png", []any{1.0, "Hi", "go", 72, false, nil, false}),
		"empty":  DeriveKey(64, 64, "#fff", "#000", "png", []any{1.0, "", "go", 72, false, nil, false}),
		"font":   DeriveKey(64, 64, "#fff", "#000", "png", []any{1.0, nil, "go-mono", 72, false, nil, false}),
		"dpi":    DeriveKey(64, 64, "#fff", "#000", "png", []any{1.0, nil, "go", 96, false, nil, false}),
		"debug":  DeriveKey(64, 64, "#fff", "#000", "png", []any{1.0, nil, "go", 72, true, nil, false}),
		"seed":   DeriveKey(64, 64, "#fff", "#000", "png", []any{1.0, nil, "go", 72, false, int64(1), false}),
		"tiles":  DeriveKey(64, 64, "#fff", "#000", "png", append(baseExtra(), 2, 2)),
	}

	seen := map[string]string{base: "base"}
	for name, key := range variants {
		if other, ok := seen[key]; ok {
			t.Errorf("%s collides with %s", name, other)
		}
		seen[key] = name
	}
}

func TestDeriveKeyTextSingleCharacter(t *testing.T) {
	a := DeriveKey(200, 50, "#fff", "#000", "png", []any{1.0, "Hello", "go", 72, false, nil, false})
	b := DeriveKey(200, 50, "#fff", "#000", "png", []any{1.0, "Hellp", "go", 72, false, nil, false})
	assert.NotEqual(t, a, b)
}

func TestDeriveKeyNoSeparatorAmbiguity(t *testing.T) {
	a := DeriveKey(1, 1, "#fff", "#000", "png", []any{"a", "bc"})
	b := DeriveKey(1, 1, "#fff", "#000", "png", []any{"ab", "c"})
	assert.NotEqual(t, a, b)

	// A string "1" and an int 1 are different values.
	c := DeriveKey(1, 1, "#fff", "#000", "png", []any{"1"})
	d := DeriveKey(1, 1, "#fff", "#000", "png", []any{1})
	assert.NotEqual(t, c, d)
}

func TestDeriveKeyIsSafeFileName(t *testing.T) {
	key := DeriveKey(10, 10, "../../etc", "a/b\\c d", "png", []any{"../text/with/slashes"})
	assert.Equal(t, key, filepath.Base(key))
	assert.NotContains(t, key, "/")
	assert.NotContains(t, key, "..")
	assert.False(t, strings.HasPrefix(key, "."))
}

func TestColorKey(t *testing.T) {
	assert.Equal(t, "fff", colorKey("#fff"))
	assert.Equal(t, "red", colorKey("red"))
	assert.Equal(t, "_", colorKey(""))
	assert.Len(t, colorKey(strings.Repeat("a", 100)), maxColorKeyLen)
}
