package generator

import (
	"math/rand/v2"
	"strings"

	"holdpics/internal/color"
	"holdpics/internal/params"
)

var words = []string{
	"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing",
	"elit", "sed", "do", "eiusmod", "tempor", "incididunt", "ut", "labore",
	"et", "dolore", "magna", "aliqua", "enim", "ad", "minim", "veniam",
	"quis", "nostrud", "exercitation", "ullamco", "laboris", "nisi",
	"aliquip", "ex", "ea", "commodo", "consequat",
}

const maxRandomWords = 3

// NeedsSeed reports whether req asks for any random input.
func NeedsSeed(req params.Request) bool {
	return color.IsRandom(req.Background) || color.IsRandom(req.Foreground) || req.Args.RandomText
}

// Resolve canonicalizes the colors and replaces random colors and text with
// values drawn from a generator seeded by the request seed. The seed stays in
// the request, so the cache key still tells different outputs apart.
func Resolve(req params.Request) params.Request {
	var rng *rand.Rand
	seeded := func() *rand.Rand {
		if rng == nil {
			var seed int64
			if req.Args.Seed != nil {
				seed = *req.Args.Seed
			}
			rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
		}
		return rng
	}

	if color.IsRandom(req.Background) {
		req.Background = color.Random(seeded())
	}
	if color.IsRandom(req.Foreground) {
		req.Foreground = color.Random(seeded())
	}
	req.Background = color.Resolve(req.Background)
	req.Foreground = color.Resolve(req.Foreground)

	if req.Args.RandomText {
		text := RandomText(seeded())
		req.Args.Text = &text
	}
	return req
}

// RandomText returns one to three capitalized filler words.
func RandomText(rng *rand.Rand) string {
	n := 1 + rng.IntN(maxRandomWords)
	picked := make([]string, n)
	for i := range picked {
		picked[i] = words[rng.IntN(len(words))]
	}
	text := strings.Join(picked, " ")
	return strings.ToUpper(text[:1]) + text[1:]
}
