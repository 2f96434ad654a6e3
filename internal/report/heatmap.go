package report

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	heatmapTitle   = "Confusion Matrix"
	heatmapCaption = "rows: true label, columns: predicted label (numbered as rows)"
	maxLabelRunes  = 24
	pad            = 6
)

var (
	blueLow  = color.NRGBA{R: 247, G: 251, B: 255, A: 255}
	blueHigh = color.NRGBA{R: 8, G: 48, B: 107, A: 255}
	gridLine = color.NRGBA{R: 200, G: 200, B: 200, A: 255}
	ink      = color.NRGBA{A: 255}

	face       = basicfont.Face7x13
	lineHeight = face.Height
	ascent     = face.Ascent
)

// heatmapLayout places the grid inside the canvas.
type heatmapLayout struct {
	cell      int
	left, top int
	width     int
	height    int
	rowLabels []string
}

func (m *Matrix) layout(cell int) heatmapLayout {
	if cell < 2 {
		cell = 2
	}
	l := heatmapLayout{cell: cell}

	labelW := 0
	for i, label := range m.Labels {
		s := strconv.Itoa(i+1) + " " + truncate(label, maxLabelRunes)
		l.rowLabels = append(l.rowLabels, s)
		labelW = max(labelW, textWidth(s))
	}

	n := len(m.Labels)
	l.left = pad + labelW + pad
	l.top = pad + lineHeight + pad + lineHeight + 2
	grid := n*cell + 1
	l.width = max(l.left+grid+pad, pad+textWidth(heatmapTitle)+pad, pad+textWidth(heatmapCaption)+pad)
	l.height = l.top + grid + pad + lineHeight + pad
	return l
}

// Heatmap draws the matrix as a grid of cell x cell squares shaded from
// white (0) to dark blue (max count), with a title, numbered row labels,
// matching column numbers and the count in each cell when it fits.
func (m *Matrix) Heatmap(cell int) *image.NRGBA {
	l := m.layout(cell)
	img := imaging.New(l.width, l.height, color.White)
	drawText(img, heatmapTitle, pad, pad+ascent, ink)

	n := len(m.Labels)
	if n == 0 {
		return img
	}

	grid := image.Rect(l.left, l.top, l.left+n*l.cell+1, l.top+n*l.cell+1)
	fill(img, grid, gridLine)

	peak := m.Max()
	for row := range m.Counts {
		for col, v := range m.Counts[row] {
			t := 0.0
			if peak > 0 {
				t = float64(v) / float64(peak)
			}
			x0, y0 := l.left+col*l.cell, l.top+row*l.cell
			fill(img, image.Rect(x0+1, y0+1, x0+l.cell, y0+l.cell), lerp(blueLow, blueHigh, t))

			if v == 0 || l.cell < lineHeight {
				continue
			}
			s := strconv.Itoa(v)
			if w := textWidth(s); w <= l.cell-2 {
				c := ink
				if t > 0.5 {
					c = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
				}
				drawText(img, s, x0+1+(l.cell-1-w)/2, y0+1+(l.cell-1-lineHeight)/2+ascent, c)
			}
		}
	}

	// Column numbers, thinned out when the cells are narrower than the text.
	step := 1
	if w := textWidth(strconv.Itoa(n)) + 2; w > l.cell {
		step = (w + l.cell - 1) / l.cell
	}
	numY := l.top - 2 - lineHeight + ascent
	for col := 0; col < n; col += step {
		s := strconv.Itoa(col + 1)
		x := l.left + col*l.cell + 1 + (l.cell-1-textWidth(s))/2
		drawText(img, s, x, numY, ink)
	}

	for row, s := range l.rowLabels {
		y := l.top + row*l.cell + 1 + (l.cell-1-lineHeight)/2 + ascent
		if l.cell < lineHeight && row%((lineHeight+l.cell-1)/l.cell) != 0 {
			continue
		}
		drawText(img, s, pad, y, ink)
	}

	drawText(img, heatmapCaption, pad, grid.Max.Y+pad+ascent, ink)
	return img
}

// RenderPNG writes the heatmap to path; the format follows the extension.
func (m *Matrix) RenderPNG(path string, cell int) error {
	if err := imaging.Save(m.Heatmap(cell), path); err != nil {
		return fmt.Errorf("save heatmap: %w", err)
	}
	return nil
}

func fill(img draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func drawText(img draw.Image, s string, x, y int, c color.Color) {
	d := font.Drawer{Dst: img, Src: image.NewUniform(c), Face: face, Dot: fixed.P(x, y)}
	d.DrawString(s)
}

func textWidth(s string) int {
	return font.MeasureString(face, s).Ceil()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

func lerp(a, b color.NRGBA, t float64) color.NRGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5)
	}
	return color.NRGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}
