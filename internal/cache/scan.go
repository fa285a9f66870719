package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const tempPrefix = ".tmp-"

// Entry is one cached file as seen on disk.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

type scanResult struct {
	entries []Entry
	temps   []Entry
	bytes   int64
}

// scan lists the cache directory. Regular files are entries; dot files are
// in-flight or abandoned temp files and are reported separately.
func (c *FileCache) scan() (*scanResult, error) {
	dirEntries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	res := &scanResult{}
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}

		path := filepath.Join(c.cacheDir, de.Name())
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if !os.IsNotExist(err) {
				c.logger.Warn("Error getting file info", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		e := Entry{Name: de.Name(), Path: path, Size: info.Size(), ModTime: info.ModTime()}
		if strings.HasPrefix(de.Name(), ".") {
			if strings.HasPrefix(de.Name(), tempPrefix) {
				res.temps = append(res.temps, e)
			}
			continue
		}

		res.entries = append(res.entries, e)
		res.bytes += e.Size
	}

	return res, nil
}

// sortOldestFirst orders entries by mtime, then name, so eviction order is
// fixed for a given directory snapshot.
func sortOldestFirst(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.Before(entries[j].ModTime)
		}
		return entries[i].Name < entries[j].Name
	})
}

// Entries returns the cached files, least recently used first.
func (c *FileCache) Entries() ([]Entry, error) {
	res, err := c.scan()
	if err != nil {
		return nil, err
	}
	sortOldestFirst(res.entries)
	return res.entries, nil
}
