package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"imgshrink/internal/compress"
	"imgshrink/internal/http/handlers"
	httpapi "imgshrink/internal/http/httpapi"
	"imgshrink/internal/infra"
	"imgshrink/internal/infra/geoip"
	"imgshrink/internal/source"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if err := cfg.RequireTinifyKey(); err != nil {
		logger.Fatal().Err(err).Msg("api: missing credentials")
	}

	pipeline, err := compress.NewPipelineFromConfig(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure pipeline")
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	defer resolver.Close()

	sources := source.NewResolver(source.Options{
		AllowedHosts: cfg.ImageSourceAllowlist,
		MaxBytes:     cfg.MaxUploadBytes,
		Logger:       &logger,
	})
	app := handlers.NewApp(cfg, pipeline, sources, &logger)

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:         logger,
		DefaultLocale:  cfg.DefaultLocale,
		CountryLookup:  resolver.Lookup(),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:      cfg.RateLimitPerMin,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := infra.NewHTTPServer(cfg, router, &logger)
	if err := server.Run(ctx, cfg.HTTPIdleTimeout); err != nil {
		logger.Fatal().Err(err).Msg("api: http server failed")
	}
}
