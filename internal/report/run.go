package report

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/flower-identifier/internal/catalog"
	"github.com/Brownie44l1/flower-identifier/internal/feedback"
)

type Options struct {
	LogPath     string
	CatalogPath string
	CSVPath     string
	PNGPath     string
	Cell        int
}

// Run reads the feedback log, prints the confusion matrix and accuracy to
// out and optionally writes CSV and PNG copies.
func Run(opts Options, out io.Writer) (*Matrix, error) {
	records, err := feedback.ReadFile(opts.LogPath)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("log", opts.LogPath).Int("records", len(records)).Msg("feedback loaded")

	labeler := Labeler(IndexLabeler)
	if opts.CatalogPath != "" {
		c, err := catalog.Load(opts.CatalogPath)
		if err != nil {
			return nil, err
		}
		labeler = CatalogLabeler(c)
	}

	m := Build(records, labeler)

	fmt.Fprintf(out, "Confusion matrix (%d feedback records, %d labels)\n\n", m.Total(), len(m.Labels))
	if err := m.WriteTable(out); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "\naccuracy=%.3f\n", m.Accuracy())

	if opts.CSVPath != "" {
		if err := writeCSVFile(m, opts.CSVPath); err != nil {
			return nil, err
		}
		log.Info().Str("path", opts.CSVPath).Msg("wrote csv")
	}
	if opts.PNGPath != "" {
		if err := m.RenderPNG(opts.PNGPath, opts.Cell); err != nil {
			return nil, err
		}
		log.Info().Str("path", opts.PNGPath).Msg("wrote heatmap")
	}
	return m, nil
}

func writeCSVFile(m *Matrix, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	if err := m.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	return f.Close()
}
