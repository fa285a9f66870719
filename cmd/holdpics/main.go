// Command holdpics renders and manages placeholder images from the shell,
// sharing the server's configuration and cache directory.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cshum/vipsgen/vips"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"holdpics/internal/cache"
	"holdpics/internal/config"
	"holdpics/internal/fonts"
	"holdpics/internal/logger"
)

func main() {
	err := newApp().Run(context.Background(), os.Args)
	vips.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "holdpics:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "holdpics",
		Usage: "placeholder image toolbox",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error)",
				Value: "warn",
			},
			&cli.StringFlag{
				Name:    "cache-dir",
				Usage:   "cache directory, overrides CACHE_DIR",
				Sources: cli.EnvVars("CACHE_DIR"),
			},
		},
		Commands: []*cli.Command{
			renderCommand(),
			cleanCommand(),
			listCommand(),
			fontsCommand(),
		},
	}
}

// env is what every subcommand needs, built from config plus global flags.
type env struct {
	cfg *config.Config
	log *zap.Logger
}

func setup(cmd *cli.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dir := cmd.String("cache-dir"); dir != "" {
		cfg.CacheDir = dir
	}

	log, err := logger.NewCLI(cmd.String("log-level"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &env{cfg: cfg, log: log}, nil
}

func (e *env) fonts() *fonts.Registry {
	registry := fonts.NewRegistry(e.log)
	if e.cfg.FontDir != "" {
		if _, err := registry.LoadDir(e.cfg.FontDir); err != nil {
			e.log.Warn("Failed to load font directory", zap.String("dir", e.cfg.FontDir), zap.Error(err))
		}
	}
	return registry
}

func (e *env) cache() (*cache.FileCache, error) {
	return cache.NewFileCache(cache.Config{
		Dir:      e.cfg.CacheDir,
		MaxFiles: e.cfg.CacheMaxFiles,
		MaxBytes: int64(e.cfg.CacheMaxBytes),
		MaxAge:   e.cfg.CacheMaxAge,
	}, e.log)
}
