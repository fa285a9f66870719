package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"holdpics/internal/cache"
	"holdpics/internal/config"
	"holdpics/internal/fonts"
	"holdpics/internal/generator"
	httphandlers "holdpics/internal/http"
	"holdpics/internal/image_renderer"
	"holdpics/internal/logger"
	"holdpics/internal/params"
	"holdpics/internal/stats"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)

	log.Info("Starting holdpics server",
		zap.Int("port", cfg.Port),
		zap.String("cache_dir", cfg.CacheDir),
		zap.String("cache_max_bytes", humanize.Bytes(uint64(cfg.CacheMaxBytes))),
	)

	registry := fonts.NewRegistry(log)
	if cfg.FontDir != "" {
		if _, err := registry.LoadDir(cfg.FontDir); err != nil {
			log.Warn("Failed to load font directory", zap.String("dir", cfg.FontDir), zap.Error(err))
		}
	}
	if !registry.Has(cfg.DefaultFont) {
		log.Fatal("Default font is not registered", zap.String("font", cfg.DefaultFont))
	}

	imageCache, err := cache.NewFileCache(cache.Config{
		Dir:      cfg.CacheDir,
		MaxFiles: cfg.CacheMaxFiles,
		MaxBytes: int64(cfg.CacheMaxBytes),
		MaxAge:   cfg.CacheMaxAge,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}

	counter, err := stats.Open(cfg.StatsDB)
	if err != nil {
		log.Fatal("Failed to open stats database", zap.String("path", cfg.StatsDB), zap.Error(err))
	}
	defer counter.Close()

	renderer := image_renderer.New(registry, log)
	gen := generator.New(imageCache, renderer, counter, log)

	handlers := httphandlers.New(cfg, log, gen, registry, counter)

	if len(cfg.WarmupSizes) > 0 {
		go warmupSizes(cfg.WarmupSizes, cfg.WarmupWorkers, cfg.DefaultFont, gen, log)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Router(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

// warmupSizes renders the plain default image for every configured size in
// every format so the first real requests are cache hits.
func warmupSizes(sizes []string, workerLimit int, font string, gen *generator.Generator, log *zap.Logger) {
	log.Info("Starting cache warmup", zap.Strings("sizes", sizes))

	if workerLimit <= 0 {
		workerLimit = 1
	}

	workerChan := make(chan struct{}, workerLimit)
	var wg sync.WaitGroup

	for _, size := range sizes {
		w, h, err := params.ParseSize(size)
		if err != nil {
			log.Warn("Skipping invalid warmup size", zap.String("size", size), zap.Error(err))
			continue
		}

		for _, format := range params.Formats() {
			args := params.DefaultArgs()
			args.Font = font
			req := generator.Resolve(params.Request{
				Width:      w,
				Height:     h,
				Background: httphandlers.DefaultBackground,
				Foreground: httphandlers.DefaultForeground,
				Format:     format,
				Args:       args,
			})

			wg.Add(1)
			workerChan <- struct{}{}

			go func(req params.Request) {
				defer wg.Done()
				defer func() { <-workerChan }()

				if _, err := gen.GetPath(context.Background(), req); err != nil {
					log.Debug("Warmup image failed", zap.Int("width", req.Width), zap.Int("height", req.Height), zap.String("format", req.Format.String()), zap.Error(err))
				}
			}(req)
		}
	}

	wg.Wait()
	log.Info("Cache warmup completed")
}
