package params

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize accepts "W" (square) or "WxH" and checks the size bounds.
func ParseSize(s string) (int, int, error) {
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) > 2 {
		return 0, 0, fmt.Errorf("%w: bad size %q", ErrInvalid, s)
	}

	dims := make([]int, 0, 2)
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: bad size %q", ErrInvalid, s)
		}
		if n < MinSize || n > MaxSize {
			return 0, 0, fmt.Errorf("%w: dimension %d outside [%d, %d]", ErrInvalid, n, MinSize, MaxSize)
		}
		dims = append(dims, n)
	}

	if len(dims) == 1 {
		return dims[0], dims[0], nil
	}
	return dims[0], dims[1], nil
}
