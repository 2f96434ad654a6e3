// Package app assembles the catalog, classifier and feedback recorder shared
// by the web server and the Telegram bot.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/flower-identifier/internal/catalog"
	"github.com/Brownie44l1/flower-identifier/internal/config"
	"github.com/Brownie44l1/flower-identifier/internal/feedback"
	"github.com/Brownie44l1/flower-identifier/internal/model"
)

type App struct {
	Config   config.Config
	Flowers  *catalog.Store
	Model    *model.Server
	Recorder feedback.Recorder

	closers []func() error
}

func Open(cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	flowers, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	a.Flowers = flowers
	log.Info().Str("path", cfg.CatalogPath).Int("flowers", flowers.Catalog().Len()).Msg("catalog loaded")

	meta, err := model.LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}
	// Without class names in the metadata, label outputs from the catalog.
	var labels []string
	if len(meta.Classes) == 0 {
		labels = flowers.Catalog().Labels(meta.NumClasses())
	}

	log.Info().Str("path", cfg.ModelPath).Msg("loading model")
	srv, err := model.NewServer(model.Options{
		ModelPath:     cfg.ModelPath,
		MetadataPath:  cfg.MetadataPath,
		SharedLibrary: cfg.ORTLibrary,
		Labels:        labels,
		TopK:          cfg.TopK,
	})
	if err != nil {
		return nil, err
	}
	a.Model = srv
	if len(meta.Classes) == 0 {
		flowers.OnReload(func(c *catalog.Catalog) {
			srv.SetLabels(c.Labels(meta.NumClasses()))
		})
	}
	a.closers = append(a.closers, func() error { srv.Close(); return nil })
	log.Info().Ints64("input_shape", meta.InputShape).Int("classes", meta.NumClasses()).Msg("model loaded")

	fbLog, err := feedback.OpenLog(cfg.FeedbackLog)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, fbLog.Close)
	var mirrors []feedback.Recorder

	if cfg.FeedbackDSN != "" {
		pg, err := feedback.OpenPostgres(cfg.FeedbackDSN, true)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("feedback database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		mirrors = append(mirrors, pg)
		log.Info().Msg("mirroring feedback to postgres")
	}
	a.Recorder = feedback.Tee(fbLog, mirrors...)
	log.Info().Str("path", cfg.FeedbackLog).Msg("feedback log open")

	return a, nil
}

// WatchCatalog reloads the flower catalog on file changes until ctx is done.
// It is a no-op when watching is disabled.
func (a *App) WatchCatalog(ctx context.Context) {
	if !a.Config.WatchCatalog {
		return
	}
	go func() {
		if err := a.Flowers.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("catalog watcher stopped")
		}
	}()
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
