package cache

import (
	"errors"
	"time"
)

// ErrStorage wraps filesystem failures while reading or writing the cache.
var ErrStorage = errors.New("cache storage failure")

// RenderFunc produces the bytes for a cache miss.
type RenderFunc func() ([]byte, error)

type Cache interface {
	// FetchOrCreate returns the path of the file stored under key, rendering
	// and storing it first when it does not exist yet.
	FetchOrCreate(key, format string, render RenderFunc) (string, error)
	// NeedsCleanup reports whether a write pushed the cache past a limit.
	NeedsCleanup() bool
	// Clean evicts stale entries and returns how many were removed.
	Clean() int
}

// Config holds the cleanup limits. A zero limit is not enforced.
type Config struct {
	Dir      string
	MaxFiles int
	MaxBytes int64
	MaxAge   time.Duration
}
