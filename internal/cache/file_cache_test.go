package cache

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T, cfg Config) *FileCache {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	c, err := NewFileCache(cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 1, A: 0xff})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type countingRender struct {
	calls atomic.Int32
	data  []byte
	delay time.Duration
}

func (r *countingRender) render() ([]byte, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.data, nil
}

// writeEntry puts a file straight into the cache directory with a given mtime.
func writeEntry(t *testing.T, c *FileCache, name string, size int, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(c.Dir(), name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func remaining(t *testing.T, c *FileCache) []string {
	t.Helper()
	entries, err := c.Entries()
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

func TestFetchOrCreateMissThenHit(t *testing.T) {
	c := newTestCache(t, Config{})
	r := &countingRender{data: pngBytes(t, 64, 64)}

	path, err := c.FetchOrCreate("64x64-fff-000-abc", "png", r.render)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Dir(), "64x64-fff-000-abc.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	again, err := c.FetchOrCreate("64x64-fff-000-abc", "png", r.render)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), r.calls.Load())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().After(past))

	files, size := c.Stats()
	assert.Equal(t, int64(1), files)
	assert.Equal(t, int64(len(r.data)), size)
}

func TestFetchOrCreateRenderError(t *testing.T) {
	c := newTestCache(t, Config{})
	boom := errors.New("boom")

	_, err := c.FetchOrCreate("k", "png", func() ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	_, err = c.FetchOrCreate("k", "png", func() ([]byte, error) { return nil, nil })
	assert.Error(t, err)

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial or temp file may be left behind")
}

func TestFetchOrCreateStorageError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c := newTestCache(t, Config{Dir: dir})

	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0644))

	_, err := c.FetchOrCreate("k", "png", func() ([]byte, error) { return []byte("x"), nil })
	assert.ErrorIs(t, err, ErrStorage)
}

func TestFetchOrCreateConcurrentSameKey(t *testing.T) {
	c := newTestCache(t, Config{})
	want := pngBytes(t, 300, 300)
	r := &countingRender{data: want, delay: 20 * time.Millisecond}
	target := c.Path("same", "png")

	stop := make(chan struct{})
	var partial atomic.Int32
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if data, err := os.ReadFile(target); err == nil && !bytes.Equal(data, want) {
					partial.Add(1)
				}
			}
		}()
	}

	const n = 16
	paths := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = c.FetchOrCreate("same", "png", r.render)
		}(i)
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, target, paths[i])
	}
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, want, data)
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Zero(t, partial.Load())
}

func TestNeedsCleanupAfterFileLimit(t *testing.T) {
	c := newTestCache(t, Config{MaxFiles: 2})
	r := &countingRender{data: []byte("data")}

	for i := 0; i < 2; i++ {
		_, err := c.FetchOrCreate(fmt.Sprintf("k%d", i), "png", r.render)
		require.NoError(t, err)
	}
	assert.False(t, c.NeedsCleanup())

	_, err := c.FetchOrCreate("k2", "png", r.render)
	require.NoError(t, err)
	assert.True(t, c.NeedsCleanup())

	assert.Equal(t, 1, c.Clean())
	assert.False(t, c.NeedsCleanup())
	assert.Len(t, remaining(t, c), 2)
}

func TestNeedsCleanupAfterByteLimit(t *testing.T) {
	c := newTestCache(t, Config{MaxBytes: 10})

	_, err := c.FetchOrCreate("a", "png", func() ([]byte, error) { return make([]byte, 6), nil })
	require.NoError(t, err)
	assert.False(t, c.NeedsCleanup())

	_, err = c.FetchOrCreate("b", "png", func() ([]byte, error) { return make([]byte, 6), nil })
	require.NoError(t, err)
	assert.True(t, c.NeedsCleanup())
}

func TestNeedsCleanupWhenMaxAgeElapsed(t *testing.T) {
	c := newTestCache(t, Config{MaxAge: time.Hour})
	base := time.Now()
	c.now = func() time.Time { return base.Add(2 * time.Hour) }

	_, err := c.FetchOrCreate("a", "png", func() ([]byte, error) { return []byte("x"), nil })
	require.NoError(t, err)
	assert.True(t, c.NeedsCleanup())
}

func TestNewFileCacheCountsExistingEntries(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("e%d.png", i)), []byte("1234"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123.png"), []byte("partial"), 0644))

	c := newTestCache(t, Config{Dir: dir, MaxFiles: 2})
	files, size := c.Stats()
	assert.Equal(t, int64(3), files)
	assert.Equal(t, int64(12), size)
	assert.True(t, c.NeedsCleanup())
}

func TestCleanRemovesLeastRecentlyTouched(t *testing.T) {
	c := newTestCache(t, Config{MaxFiles: 3})
	now := time.Now()
	for i := 0; i < 5; i++ {
		writeEntry(t, c, fmt.Sprintf("e%d.png", i), 10, now.Add(time.Duration(i-10)*time.Minute))
	}

	// Touching the oldest entry makes it the newest.
	_, err := c.FetchOrCreate("e0", "png", func() ([]byte, error) { t.Fatal("must not render"); return nil, nil })
	require.NoError(t, err)

	assert.Equal(t, 2, c.Clean())
	assert.Equal(t, []string{"e3.png", "e4.png", "e0.png"}, remaining(t, c))
}

func TestCleanKeepsWritesDuringPass(t *testing.T) {
	c := newTestCache(t, Config{MaxFiles: 2})
	now := time.Now()
	for i := 0; i < 3; i++ {
		writeEntry(t, c, fmt.Sprintf("e%d.png", i), 10, now.Add(-time.Duration(3-i)*time.Minute))
	}

	// The clock is read right after the directory scan; a write stored at
	// that point must survive the pass's accounting.
	c.now = func() time.Time {
		c.now = time.Now
		writeEntry(t, c, "late.png", 7, now)
		c.account(7)
		return now
	}

	assert.Equal(t, 1, c.Clean())
	assert.Equal(t, []string{"e1.png", "e2.png", "late.png"}, remaining(t, c))

	files, size := c.Stats()
	assert.Equal(t, int64(3), files)
	assert.Equal(t, int64(27), size)
	assert.True(t, c.NeedsCleanup())
}

func TestCleanByteLimit(t *testing.T) {
	c := newTestCache(t, Config{MaxBytes: 25})
	now := time.Now()
	writeEntry(t, c, "a.png", 10, now.Add(-3*time.Minute))
	writeEntry(t, c, "b.png", 10, now.Add(-2*time.Minute))
	writeEntry(t, c, "c.png", 10, now.Add(-1*time.Minute))

	assert.Equal(t, 1, c.Clean())
	assert.Equal(t, []string{"b.png", "c.png"}, remaining(t, c))

	files, size := c.Stats()
	assert.Equal(t, int64(2), files)
	assert.Equal(t, int64(20), size)
}

func TestCleanMaxAge(t *testing.T) {
	c := newTestCache(t, Config{MaxAge: time.Hour})
	now := time.Now()
	writeEntry(t, c, "old.png", 1, now.Add(-3*time.Hour))
	writeEntry(t, c, "older.png", 1, now.Add(-4*time.Hour))
	writeEntry(t, c, "fresh.png", 1, now.Add(-time.Minute))

	assert.Equal(t, 2, c.Clean())
	assert.Equal(t, []string{"fresh.png"}, remaining(t, c))
}

func TestCleanRemovesStaleTempFiles(t *testing.T) {
	c := newTestCache(t, Config{})
	now := time.Now()
	stale := writeEntry(t, c, tempPrefix+"stale.png", 5, now.Add(-2*tempMaxAge))
	live := writeEntry(t, c, tempPrefix+"live.png", 5, now)

	assert.Equal(t, 0, c.Clean())
	assert.NoFileExists(t, stale)
	assert.FileExists(t, live)
}

func TestCleanNothingToDo(t *testing.T) {
	c := newTestCache(t, Config{MaxFiles: 10})
	writeEntry(t, c, "a.png", 1, time.Now())
	assert.Equal(t, 0, c.Clean())
	assert.Equal(t, []string{"a.png"}, remaining(t, c))
}

func TestCleanSkipsWhenAlreadyRunning(t *testing.T) {
	c := newTestCache(t, Config{MaxFiles: 1})
	writeEntry(t, c, "a.png", 1, time.Now().Add(-time.Minute))
	writeEntry(t, c, "b.png", 1, time.Now())

	c.cleanMu.Lock()
	assert.Equal(t, 0, c.Clean())
	c.cleanMu.Unlock()

	assert.Equal(t, 1, c.Clean())
}

func TestCleanIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	now := time.Now()

	for round := 0; round < 20; round++ {
		c := newTestCache(t, Config{MaxFiles: rng.IntN(10), MaxBytes: int64(rng.IntN(400))})
		mtimes := map[string]time.Time{}
		for i := 0; i < 15; i++ {
			name := fmt.Sprintf("r%d-e%d.png", round, i)
			mtime := now.Add(-time.Duration(rng.IntN(1000)) * time.Second)
			writeEntry(t, c, name, 1+rng.IntN(50), mtime)
			mtimes[name] = mtime
		}

		c.Clean()

		kept := map[string]bool{}
		var keptBytes int64
		entries, err := c.Entries()
		require.NoError(t, err)
		for _, e := range entries {
			kept[e.Name] = true
			keptBytes += e.Size
		}

		if c.maxFiles > 0 {
			assert.LessOrEqual(t, len(entries), c.maxFiles)
		}
		if c.maxBytes > 0 {
			assert.LessOrEqual(t, keptBytes, c.maxBytes)
		}
		for gone, goneTime := range mtimes {
			if kept[gone] {
				continue
			}
			for stay := range kept {
				assert.False(t, mtimes[stay].Before(goneTime),
					"%s (removed) is newer than %s (kept)", gone, stay)
			}
		}
	}
}

func TestClear(t *testing.T) {
	c := newTestCache(t, Config{})
	writeEntry(t, c, "a.png", 1, time.Now())
	writeEntry(t, c, "b.png", 1, time.Now())

	n, err := c.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, remaining(t, c))
}
