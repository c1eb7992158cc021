package ics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	appLog "calwatch/internal/log"
)

// LoadResult contains the outcome of loading a single ICS source.
type LoadResult struct {
	Source    Source
	Body      []byte // ICS payload (either freshly read or from cache)
	FromCache bool   // true if the file was unchanged since the last read
}

// cacheEntry remembers the file stamp a cached body was read with.
type cacheEntry struct {
	modTime time.Time
	size    int64
	body    []byte
}

// Loader reads ICS files from disk and keeps the last body per path so an
// unchanged file is not read again.
type Loader struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewLoader() *Loader {
	return &Loader{cache: make(map[string]cacheEntry)}
}

// LoadAll loads all given sources and returns individual results.
// Errors for individual sources are logged and returned keyed by source
// name; the results only contain sources that produced a body.
func (l *Loader) LoadAll(ctx context.Context, sources []Source) ([]LoadResult, map[string]error) {
	results := make([]LoadResult, 0, len(sources))
	errs := make(map[string]error)

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			errs[src.Name] = err
			continue
		}
		res, err := l.LoadOne(src)
		if err != nil {
			errs[src.Name] = err
			appLog.Error("ics load failed", err, "calendar", src.Name, "path", src.Path)
			continue
		}
		results = append(results, res)
	}

	return results, errs
}

// LoadOne reads one source, reusing the cached body when the file's
// modification time and size are unchanged.
func (l *Loader) LoadOne(src Source) (LoadResult, error) {
	if src.Path == "" {
		return LoadResult{}, errors.New("source path is empty")
	}

	info, err := os.Stat(src.Path)
	if err != nil {
		return LoadResult{}, err
	}
	if info.IsDir() {
		return LoadResult{}, fmt.Errorf("%s is a directory", src.Path)
	}

	l.mu.Lock()
	cached, ok := l.cache[src.Path]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		appLog.Debug("ics load not modified; using cache", "calendar", src.Name, "path", src.Path)
		return LoadResult{Source: src, Body: cached.body, FromCache: true}, nil
	}

	body, err := os.ReadFile(src.Path)
	if err != nil {
		return LoadResult{}, err
	}

	l.mu.Lock()
	l.cache[src.Path] = cacheEntry{modTime: info.ModTime(), size: info.Size(), body: body}
	l.mu.Unlock()

	appLog.Info("ics load success", "calendar", src.Name, "path", src.Path, "bytes", len(body))
	return LoadResult{Source: src, Body: body}, nil
}
