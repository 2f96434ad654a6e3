package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/flower-identifier/internal/app"
	"github.com/Brownie44l1/flower-identifier/internal/config"
	"github.com/Brownie44l1/flower-identifier/internal/logging"
	"github.com/Brownie44l1/flower-identifier/internal/metrics"
	"github.com/Brownie44l1/flower-identifier/internal/telegram"
)

func main() {
	configPath := flag.String("config", os.Getenv("FLOWER_CONFIG"), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init("flower-bot", "info", "console")
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init("flower-bot", cfg.LogLevel, cfg.LogFormat)
	metrics.Register()

	if cfg.TelegramToken == "" {
		log.Fatal().Msg("TELEGRAM_TOKEN is not set")
	}

	a, err := app.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	dialog := telegram.NewDialog(telegram.NewMemoryChatRepository(), a.Model, a.Flowers, a.Recorder)
	bot, err := telegram.NewBot(cfg.TelegramToken, dialog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start bot")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.WatchCatalog(ctx)

	log.Info().Msg("bot started")
	if err := bot.Run(ctx); err != nil {
		log.Error().Err(err).Msg("bot stopped")
	}
}
