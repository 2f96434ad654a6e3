// Package report builds a confusion matrix from the feedback log.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/Brownie44l1/flower-identifier/internal/catalog"
	"github.com/Brownie44l1/flower-identifier/internal/feedback"
)

// Labeler names a predicted class id so it can be compared with the
// free-text corrections users type.
type Labeler func(id int) string

// IndexLabeler labels classes by their decimal id.
func IndexLabeler(id int) string {
	return strconv.Itoa(id)
}

// CatalogLabeler labels classes by lower-cased flower name, falling back to
// the id for classes the catalog does not know.
func CatalogLabeler(c *catalog.Catalog) Labeler {
	return func(id int) string {
		if f, ok := c.Lookup(id); ok {
			return strings.ToLower(strings.TrimSpace(f.Name))
		}
		return IndexLabeler(id)
	}
}

// Matrix counts feedback by true label (rows) and predicted label (columns).
type Matrix struct {
	Labels []string
	Counts [][]int
}

func Build(records []feedback.Record, label Labeler) *Matrix {
	if label == nil {
		label = IndexLabeler
	}
	trueLabels := make([]string, 0, len(records))
	predLabels := make([]string, 0, len(records))
	seen := map[string]struct{}{}

	for _, rec := range records {
		pred := label(rec.Predicted)
		truth := pred
		if !rec.IsConfirmation() {
			truth = strings.ToLower(strings.TrimSpace(rec.Correction))
		}
		trueLabels = append(trueLabels, truth)
		predLabels = append(predLabels, pred)
		seen[truth] = struct{}{}
		seen[pred] = struct{}{}
	}

	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	counts := make([][]int, len(labels))
	for i := range counts {
		counts[i] = make([]int, len(labels))
	}
	for i := range trueLabels {
		counts[index[trueLabels[i]]][index[predLabels[i]]]++
	}
	return &Matrix{Labels: labels, Counts: counts}
}

func (m *Matrix) Total() int {
	n := 0
	for _, row := range m.Counts {
		for _, v := range row {
			n += v
		}
	}
	return n
}

// Accuracy is the share of feedback on the diagonal; 0 for an empty matrix.
func (m *Matrix) Accuracy() float64 {
	total := m.Total()
	if total == 0 {
		return 0
	}
	diag := 0
	for i := range m.Counts {
		diag += m.Counts[i][i]
	}
	return float64(diag) / float64(total)
}

func (m *Matrix) Max() int {
	peak := 0
	for _, row := range m.Counts {
		for _, v := range row {
			peak = max(peak, v)
		}
	}
	return peak
}

func (m *Matrix) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "true \\ predicted\t")
	for _, l := range m.Labels {
		fmt.Fprintf(tw, "%s\t", l)
	}
	fmt.Fprintln(tw)
	for i, row := range m.Counts {
		fmt.Fprintf(tw, "%s\t", m.Labels[i])
		for _, v := range row {
			fmt.Fprintf(tw, "%d\t", v)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func (m *Matrix) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{"true\\predicted"}, m.Labels...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, row := range m.Counts {
		rec := make([]string, 0, len(row)+1)
		rec = append(rec, m.Labels[i])
		for _, v := range row {
			rec = append(rec, strconv.Itoa(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
