package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"imgshrink/internal/compress"
	"imgshrink/internal/domain"
	"imgshrink/internal/infra"
	"imgshrink/internal/middleware"
	"imgshrink/internal/progress"
	"imgshrink/internal/source"
)

// Compressor runs one compression request end to end.
type Compressor interface {
	Run(ctx context.Context, req compress.Request, tracker *progress.Tracker) (*domain.CompressionResult, error)
}

type App struct {
	Pipeline Compressor
	Sources  *source.Resolver
	Config   *infra.Config
	Logger   *infra.Logger
}

func NewApp(cfg *infra.Config, pipeline Compressor, sources *source.Resolver, logger *infra.Logger) *App {
	if sources == nil {
		sources = source.NewResolver(source.Options{
			AllowedHosts: cfg.ImageSourceAllowlist,
			MaxBytes:     cfg.MaxUploadBytes,
			Logger:       logger,
		})
	}
	return &App{Pipeline: pipeline, Sources: sources, Config: cfg, Logger: infra.LoggerOrDiscard(logger)}
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// error writes the failure envelope with a message in the request locale.
func (a *App) error(w http.ResponseWriter, r *http.Request, code int, kind string, key msgKey, args ...any) {
	locale := middleware.LocaleFromContext(r.Context())
	a.json(w, code, errorResponse{Error: errorBody{Kind: kind, Message: translate(locale, key, args...)}})
}

func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return a.Logger
}
