package report

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/flower-identifier/internal/catalog"
	"github.com/Brownie44l1/flower-identifier/internal/feedback"
)

func TestBuildByIndex(t *testing.T) {
	recs := []feedback.Record{
		{Predicted: 3, Correction: "correct"},
		{Predicted: 3, Correction: "Correct"},
		{Predicted: 3, Correction: "Rose"},
		{Predicted: 7, Correction: "correct"},
	}
	m := Build(recs, nil)

	require.Equal(t, []string{"3", "7", "rose"}, m.Labels)
	require.Equal(t, [][]int{
		{2, 0, 0},
		{0, 1, 0},
		{1, 0, 0},
	}, m.Counts)
	require.Equal(t, 4, m.Total())
	require.InDelta(t, 0.75, m.Accuracy(), 1e-9)
}

func TestBuildWithCatalog(t *testing.T) {
	c, err := catalog.New([]catalog.Flower{{ID: 3, Name: "Rose"}, {ID: 7, Name: "sunflower"}})
	require.NoError(t, err)

	recs := []feedback.Record{
		{Predicted: 3, Correction: "correct"},
		{Predicted: 7, Correction: "  ROSE "},
		{Predicted: 9, Correction: "correct"},
	}
	m := Build(recs, CatalogLabeler(c))

	require.Equal(t, []string{"9", "rose", "sunflower"}, m.Labels)
	// rose predicted as sunflower lands in row rose, column sunflower
	require.Equal(t, 1, m.Counts[1][2])
	require.Equal(t, 1, m.Counts[1][1])
	require.Equal(t, 1, m.Counts[0][0])
	require.InDelta(t, 2.0/3.0, m.Accuracy(), 1e-9)
}

func TestEmptyMatrix(t *testing.T) {
	m := Build(nil, nil)
	require.Empty(t, m.Labels)
	require.Zero(t, m.Accuracy())
	img := m.Heatmap(10)
	require.Equal(t, m.layout(10).width, img.Bounds().Dx())
	require.Greater(t, img.Bounds().Dx(), textWidth(heatmapTitle))
}

func TestHeatmapCells(t *testing.T) {
	m := Build([]feedback.Record{
		{Predicted: 1, Correction: "correct"},
		{Predicted: 1, Correction: "correct"},
		{Predicted: 1, Correction: "lily"},
	}, nil)
	cell := 20
	img := m.Heatmap(cell)
	l := m.layout(cell)

	require.Equal(t, l.width, img.Bounds().Dx())
	require.Equal(t, l.height, img.Bounds().Dy())
	require.Equal(t, []string{"1 1", "2 lily"}, l.rowLabels)

	// corner pixels stay clear of the centred count text
	at := func(row, col int) color.NRGBA {
		return img.NRGBAAt(l.left+col*cell+2, l.top+row*cell+2)
	}
	require.Equal(t, blueHigh, at(0, 0))
	require.Equal(t, blueLow, at(0, 1))
	require.Equal(t, lerp(blueLow, blueHigh, 0.5), at(1, 0))
	require.Equal(t, gridLine, img.NRGBAAt(l.left, l.top))
}

func TestHeatmapScales(t *testing.T) {
	var recs []feedback.Record
	for i := 0; i < 150; i++ {
		recs = append(recs, feedback.Record{Predicted: i, Correction: fmt.Sprintf("flower %d", i)})
	}
	m := Build(recs, nil)
	require.Len(t, m.Labels, 300)

	start := time.Now()
	img := m.Heatmap(8)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, m.layout(8).width, img.Bounds().Dx())
}

func TestWriters(t *testing.T) {
	m := Build([]feedback.Record{{Predicted: 1, Correction: "lily"}, {Predicted: 1, Correction: "correct"}}, nil)

	var table bytes.Buffer
	require.NoError(t, m.WriteTable(&table))
	require.Contains(t, table.String(), "lily")

	var csvOut bytes.Buffer
	require.NoError(t, m.WriteCSV(&csvOut))
	lines := strings.Split(strings.TrimSpace(csvOut.String()), "\n")
	require.Equal(t, []string{`true\predicted,1,lily`, "1,1,0", "lily,1,0"}, lines)
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "feedback.log")
	require.NoError(t, os.WriteFile(logPath, []byte(strings.Join([]string{
		"Predicted: 5, Correction: correct",
		"2026-01-02T03:04:05Z Predicted: 5, Correction: english marigold",
		"not a feedback line",
		"2026-01-02T03:05:00Z Predicted: 2, Correction: correct",
	}, "\n")+"\n"), 0o644))

	catPath := filepath.Join(dir, "flower.json")
	require.NoError(t, os.WriteFile(catPath, []byte(`[{"id":5,"name":"English Marigold"},{"id":2,"name":"canterbury bells"}]`), 0o644))

	opts := Options{
		LogPath:     logPath,
		CatalogPath: catPath,
		CSVPath:     filepath.Join(dir, "cm.csv"),
		PNGPath:     filepath.Join(dir, "cm.png"),
		Cell:        16,
	}
	var out bytes.Buffer
	m, err := Run(opts, &out)
	require.NoError(t, err)
	require.Equal(t, 3, m.Total())
	require.Equal(t, []string{"canterbury bells", "english marigold"}, m.Labels)
	require.InDelta(t, 1.0, m.Accuracy(), 1e-9)
	require.Contains(t, out.String(), "accuracy=1.000")

	img, err := imaging.Open(opts.PNGPath)
	require.NoError(t, err)
	require.Equal(t, m.layout(16).width, img.Bounds().Dx())
	require.Greater(t, img.Bounds().Dx(), 2*16+1)

	_, err = os.Stat(opts.CSVPath)
	require.NoError(t, err)
}

func TestRunMissingLog(t *testing.T) {
	_, err := Run(Options{LogPath: filepath.Join(t.TempDir(), "missing.log")}, &bytes.Buffer{})
	require.Error(t, err)
}
