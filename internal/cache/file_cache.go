package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Temp files older than this belong to writers that died mid-write.
const tempMaxAge = time.Hour

// FileCache stores rendered images as {key}.{format} directly under one
// directory. The file's mtime is its last access time; nothing else is
// persisted.
type FileCache struct {
	cacheDir string
	maxFiles int
	maxBytes int64
	maxAge   time.Duration
	logger   *zap.Logger

	group      singleflight.Group
	cleanMu    sync.Mutex
	files      atomic.Int64
	bytes      atomic.Int64
	lastClean  atomic.Int64
	needsClean atomic.Bool

	now func() time.Time
}

func NewFileCache(cfg Config, logger *zap.Logger) (*FileCache, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create cache directory: %w", ErrStorage, err)
	}

	c := &FileCache{
		cacheDir: cfg.Dir,
		maxFiles: cfg.MaxFiles,
		maxBytes: cfg.MaxBytes,
		maxAge:   cfg.MaxAge,
		logger:   logger,
		now:      time.Now,
	}
	c.lastClean.Store(c.now().UnixNano())

	res, err := c.scan()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	c.files.Store(int64(len(res.entries)))
	c.bytes.Store(res.bytes)
	c.needsClean.Store(c.overLimit())

	logger.Info("Using file cache",
		zap.String("cache_dir", cfg.Dir),
		zap.Int("files", len(res.entries)),
		zap.String("size", humanize.Bytes(uint64(res.bytes))),
		zap.Int("max_files", cfg.MaxFiles),
		zap.String("max_bytes", humanize.Bytes(uint64(cfg.MaxBytes))),
		zap.Duration("max_age", cfg.MaxAge),
	)
	return c, nil
}

func (c *FileCache) Dir() string {
	return c.cacheDir
}

// Path is where the entry for key is stored.
func (c *FileCache) Path(key, format string) string {
	return filepath.Join(c.cacheDir, key+"."+format)
}

func (c *FileCache) FetchOrCreate(key, format string, render RenderFunc) (string, error) {
	path := c.Path(key, format)

	hit, err := c.touch(path)
	if err != nil {
		return "", err
	}
	if hit {
		return path, nil
	}

	// Concurrent misses for the same file share one render.
	_, err, _ = c.group.Do(path, func() (any, error) {
		// A flight that just finished may have written it.
		if hit, err := c.touch(path); err != nil || hit {
			return nil, err
		}

		data, err := render()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("render produced no data for %s", key)
		}

		if err := c.write(path, data); err != nil {
			return nil, err
		}
		c.account(int64(len(data)))

		c.logger.Debug("Stored cache entry", zap.String("path", path), zap.Int("bytes", len(data)))
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// touch refreshes the mtime of path and reports whether it exists.
func (c *FileCache) touch(path string) (bool, error) {
	now := c.now()
	err := os.Chtimes(path, now, now)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: failed to touch %s: %w", ErrStorage, path, err)
}

// write stores data under path through a temp file and a rename, so readers
// see either nothing or the complete file. With several writers the last
// rename wins.
func (c *FileCache) write(path string, data []byte) error {
	tmp, err := os.CreateTemp(c.cacheDir, tempPrefix+"*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %w", ErrStorage, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to write %s: %w", ErrStorage, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to close %s: %w", ErrStorage, tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to chmod %s: %w", ErrStorage, tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to rename into %s: %w", ErrStorage, path, err)
	}
	return nil
}

func (c *FileCache) account(size int64) {
	c.files.Add(1)
	c.bytes.Add(size)
	if c.overLimit() || c.cleanDue() {
		c.needsClean.Store(true)
	}
}

func (c *FileCache) overLimit() bool {
	return (c.maxFiles > 0 && c.files.Load() > int64(c.maxFiles)) ||
		(c.maxBytes > 0 && c.bytes.Load() > c.maxBytes)
}

// cleanDue reports whether entries may have expired since the last pass.
func (c *FileCache) cleanDue() bool {
	if c.maxAge <= 0 {
		return false
	}
	last := time.Unix(0, c.lastClean.Load())
	return c.now().Sub(last) >= c.maxAge
}

func (c *FileCache) NeedsCleanup() bool {
	return c.needsClean.Load()
}

// Stats returns the tracked entry count and total size.
func (c *FileCache) Stats() (files int64, bytes int64) {
	return c.files.Load(), c.bytes.Load()
}

// Clean removes entries older than the max age, then the least recently
// used entries until the file and byte limits hold. Removal always takes a
// prefix of the entries ordered by mtime, so a newer entry never goes while
// an older one stays. A pass that finds another pass running does nothing.
func (c *FileCache) Clean() int {
	if !c.cleanMu.TryLock() {
		c.logger.Debug("Cache cleanup already running")
		return 0
	}
	defer c.cleanMu.Unlock()

	// Totals are moved by the difference between the tracked values at scan
	// time and what is left on disk, so writes that land during the pass
	// stay counted.
	trackedFiles, trackedBytes := c.files.Load(), c.bytes.Load()
	res, err := c.scan()
	if err != nil {
		c.logger.Warn("Cache cleanup failed", zap.Error(err))
		return 0
	}
	now := c.now()

	for _, tmp := range res.temps {
		if now.Sub(tmp.ModTime) > tempMaxAge {
			if err := os.Remove(tmp.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				c.logger.Warn("Failed to remove stale temp file", zap.String("path", tmp.Path), zap.Error(err))
			}
		}
	}

	entries := res.entries
	sortOldestFirst(entries)

	count, total := int64(len(entries)), res.bytes
	cutoff := now.Add(-c.maxAge)
	removed := 0
	var freed int64

	for _, e := range entries {
		expired := c.maxAge > 0 && e.ModTime.Before(cutoff)
		over := (c.maxFiles > 0 && count > int64(c.maxFiles)) || (c.maxBytes > 0 && total > c.maxBytes)
		if !expired && !over {
			break
		}

		if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			// Stop rather than skip, so nothing newer goes before this one.
			c.logger.Warn("Failed to remove cache entry", zap.String("path", e.Path), zap.Error(err))
			break
		}
		count--
		total -= e.Size
		removed++
		freed += e.Size
	}

	c.files.Add(count - trackedFiles)
	c.bytes.Add(total - trackedBytes)
	c.lastClean.Store(now.UnixNano())
	c.needsClean.Store(c.overLimit())

	c.logger.Info("Cache cleaned",
		zap.Int("removed", removed),
		zap.String("freed", humanize.Bytes(uint64(freed))),
		zap.Int64("files", c.files.Load()),
		zap.String("size", humanize.Bytes(uint64(c.bytes.Load()))),
	)
	return removed
}

// Clear removes every entry regardless of age.
func (c *FileCache) Clear() (int, error) {
	c.cleanMu.Lock()
	defer c.cleanMu.Unlock()

	res, err := c.scan()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	removed := 0
	for _, e := range res.entries {
		if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("%w: failed to remove %s: %w", ErrStorage, e.Path, err)
		}
		removed++
	}

	c.files.Store(0)
	c.bytes.Store(0)
	c.needsClean.Store(false)
	return removed, nil
}
