package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/flower-identifier/internal/app"
	"github.com/Brownie44l1/flower-identifier/internal/config"
	"github.com/Brownie44l1/flower-identifier/internal/handlers"
	"github.com/Brownie44l1/flower-identifier/internal/logging"
	"github.com/Brownie44l1/flower-identifier/internal/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("FLOWER_CONFIG"), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init("flower-server", "info", "console")
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.Init("flower-server", cfg.LogLevel, cfg.LogFormat)
	metrics.Register()

	a, err := app.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	handler, err := handlers.NewHandler(a.Model, a.Flowers, a.Recorder, handlers.Options{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		PredictionTTL:  cfg.PredictionTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build handlers")
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger(logger), metrics.Middleware())
	r.MaxMultipartMemory = cfg.MaxUploadBytes()
	handler.Register(r)
	r.GET("/metrics", metrics.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.WatchCatalog(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", cfg.Addr).Msg("server starting")
	log.Info().Msg("endpoints: GET / (upload form), POST / (classify), POST /feedback, " +
		"GET /health, POST /predict, POST /predict/image, POST /api/feedback, GET /metrics")
	log.Info().Msgf("upload test: curl -X POST -F \"image=@rose.jpg\" http://localhost%s/predict/image", cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
