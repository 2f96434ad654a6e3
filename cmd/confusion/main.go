package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/flower-identifier/internal/logging"
	"github.com/Brownie44l1/flower-identifier/internal/report"
)

func main() {
	var opts report.Options
	flag.StringVar(&opts.LogPath, "log", "feedback.log", "feedback log to read")
	flag.StringVar(&opts.CatalogPath, "catalog", "", "flower.json used to name predicted classes (default: raw class ids)")
	flag.StringVar(&opts.CSVPath, "csv", "", "also write the matrix as CSV to this path")
	flag.StringVar(&opts.PNGPath, "png", "", "also render a heatmap PNG to this path")
	flag.IntVar(&opts.Cell, "cell", 32, "heatmap cell size in pixels")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logging.InitTo(os.Stderr, "flower-confusion", *level, "console")

	if _, err := report.Run(opts, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("confusion report failed")
	}
}
