package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"holdpics/internal/config"
	"holdpics/internal/generator"
	"holdpics/internal/params"
)

const noCache = "no-cache, no-store, must-revalidate"

type Generator interface {
	GetPath(ctx context.Context, req params.Request) (string, error)
	NeedsCleanup() bool
	Clean() int
}

type FontSet interface {
	Has(name string) bool
}

type ImageCounter interface {
	Images(ctx context.Context) (int64, error)
}

type Handlers struct {
	config    *config.Config
	logger    *zap.Logger
	generator Generator
	fonts     FontSet
	counter   ImageCounter
}

// New wires the handlers. counter may be nil, in which case /api/count
// answers 404.
func New(config *config.Config, logger *zap.Logger, gen Generator, fonts FontSet, counter ImageCounter) *Handlers {
	return &Handlers{
		config:    config,
		logger:    logger,
		generator: gen,
		fonts:     fonts,
		counter:   counter,
	}
}

func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(middleware.GetHead)
	r.Use(h.RequestLoggingMiddleware)
	r.Use(h.CORSMiddleware)

	r.Get("/healthz", h.HandleHealthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/count", h.HandleCount)
		r.Get("/tiled/{size}/{cols}/{rows}/{fmt}", h.HandleTiled)
		r.Get("/*", h.HandleImage)
	})
	return r
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		w.Header().Set("X-Request-Id", requestID)
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigin := h.config.AllowedOrigin
		if allowedOrigin == "" {
			allowedOrigin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", "X-Random-Text, X-Request-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) HandleCount(w http.ResponseWriter, r *http.Request) {
	if h.counter == nil {
		http.NotFound(w, r)
		return
	}

	count, err := h.counter.Images(r.Context())
	if err != nil {
		h.logger.Error("Failed to read image count", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", noCache)
	json.NewEncoder(w).Encode(map[string]int64{"count": count})
}

// HandleImage serves /api/{size}[/{bg}[/{fg}]][/{fmt}].
func (h *Handlers) HandleImage(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(chi.URLParam(r, "*"), "/"), "/")

	width, height, bg, fg, format, err := parseImagePath(parts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	req := params.Request{
		Width:      width,
		Height:     height,
		Background: bg,
		Foreground: fg,
		Format:     format,
	}
	h.serve(w, r, req)
}

// HandleTiled serves /api/tiled/{size}/{cols}/{rows}/{fmt}.
func (h *Handlers) HandleTiled(w http.ResponseWriter, r *http.Request) {
	width, height, err := params.ParseSize(chi.URLParam(r, "size"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	cols, err := strconv.Atoi(chi.URLParam(r, "cols"))
	if err != nil {
		http.Error(w, "Invalid column count", http.StatusNotFound)
		return
	}
	rows, err := strconv.Atoi(chi.URLParam(r, "rows"))
	if err != nil {
		http.Error(w, "Invalid row count", http.StatusNotFound)
		return
	}
	format, err := params.ParseFormat(chi.URLParam(r, "fmt"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	req := params.Request{
		Width:      width,
		Height:     height,
		Background: DefaultBackground,
		Foreground: DefaultForeground,
		Format:     format,
		Tiling:     &params.Tiling{Columns: cols, Rows: rows},
	}
	h.serve(w, r, req)
}

func (h *Handlers) serve(w http.ResponseWriter, r *http.Request, req params.Request) {
	args, query, err := h.parseArgs(r.URL.Query())
	var redirect *fontRedirect
	if errors.As(err, &redirect) {
		u := *r.URL
		q := u.Query()
		q.Set("font", redirect.font)
		u.RawQuery = q.Encode()
		http.Redirect(w, r, u.String(), http.StatusMovedPermanently)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Args = args

	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	random := generator.NeedsSeed(req)
	req = generator.Resolve(seedIfRandom(req))

	path, err := h.generator.GetPath(r.Context(), req)
	if err != nil {
		http.Error(w, "Failed to generate image", http.StatusInternalServerError)
		return
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		// Removed by a cleanup between lookup and open.
		if path, err = h.generator.GetPath(r.Context(), req); err == nil {
			f, err = os.Open(path)
		}
	}
	if err != nil {
		h.logger.Error("Failed to open image", zap.String("path", path), zap.Error(err))
		http.Error(w, "Failed to generate image", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.logger.Error("Failed to stat image", zap.String("path", path), zap.Error(err))
		http.Error(w, "Failed to generate image", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", req.Format.ContentType())
	w.Header().Set("ETag", `"`+generateETag(generator.Key(req))+`"`)
	if random {
		w.Header().Set("Cache-Control", noCache)
	} else {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", h.config.MaxAge))
	}
	if req.Args.RandomText && req.Args.Text != nil {
		w.Header().Set("X-Random-Text", *req.Args.Text)
	}
	if query.filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", attachmentName(query.filename, req.Format)))
	}

	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)

	if h.generator.NeedsCleanup() {
		go h.generator.Clean()
	}
}

func generateETag(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
