// Package generator turns generation requests into cached image files.
package generator

import (
	"context"

	"go.uber.org/zap"

	"holdpics/internal/cache"
	"holdpics/internal/params"
)

type Renderer interface {
	Render(req params.Request) ([]byte, error)
}

type Counter interface {
	IncrImages(ctx context.Context) (int64, error)
}

type Generator struct {
	cache    cache.Cache
	renderer Renderer
	counter  Counter
	logger   *zap.Logger
}

// New wires a generator. counter may be nil.
func New(c cache.Cache, renderer Renderer, counter Counter, logger *zap.Logger) *Generator {
	return &Generator{
		cache:    c,
		renderer: renderer,
		counter:  counter,
		logger:   logger,
	}
}

// Key returns the cache key for an already resolved request.
func Key(req params.Request) string {
	return cache.DeriveKey(req.Width, req.Height, req.Background, req.Foreground, req.Format.String(), req.Extra())
}

// GetPath returns the path of the image for req, rendering it on first use.
// req must already be resolved (see Resolve).
func (g *Generator) GetPath(ctx context.Context, req params.Request) (string, error) {
	key := Key(req)

	created := false
	path, err := g.cache.FetchOrCreate(key, req.Format.Ext(), func() ([]byte, error) {
		data, err := g.renderer.Render(req)
		if err != nil {
			return nil, err
		}
		created = true
		return data, nil
	})
	if err != nil {
		g.logger.Error("Failed to get image", zap.String("key", key), zap.Error(err))
		return "", err
	}

	if !created {
		g.logger.Debug("Image already existed", zap.String("key", key))
		return path, nil
	}

	g.logger.Debug("Created new image", zap.String("key", key))
	if g.counter != nil {
		if _, err := g.counter.IncrImages(ctx); err != nil {
			g.logger.Warn("Failed to increment image count", zap.Error(err))
		}
	}
	return path, nil
}

func (g *Generator) NeedsCleanup() bool {
	return g.cache.NeedsCleanup()
}

// Clean runs one cache cleanup pass and logs how many files went.
func (g *Generator) Clean() int {
	n := g.cache.Clean()
	if n > 0 {
		g.logger.Info("Removed cached images", zap.Int("count", n))
	}
	return n
}
