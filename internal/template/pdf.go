package template

import (
	"math"
	"sort"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// yTolerance groups characters into the same visual line.
const yTolerance = 2.0

// parsePDF extracts per-character layout from each page and rebuilds
// lines carrying font size and weight, feeding the typography detector.
func parsePDF(path string) (Result, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	var lines []Line
	var raw strings.Builder

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		if text, err := page.GetPlainText(nil); err == nil {
			raw.WriteString(text)
			raw.WriteString("\n")
		}
		lines = append(lines, pageLines(page.Content())...)
	}
	return fromLines(lines, raw.String()), nil
}

// pageLines reassembles a page's characters into lines, top to bottom.
// A line's font size is the largest size on it; any bold glyph marks the
// whole line bold.
func pageLines(content pdflib.Content) []Line {
	texts := content.Text
	if len(texts) == 0 {
		return nil
	}
	// Stable order: top-down, then left-to-right. PDF Y grows upward.
	sorted := make([]pdflib.Text, len(texts))
	copy(sorted, texts)
	sort.SliceStable(sorted, func(a, b int) bool {
		if math.Abs(sorted[a].Y-sorted[b].Y) > yTolerance {
			return sorted[a].Y > sorted[b].Y
		}
		return sorted[a].X < sorted[b].X
	})

	var out []Line
	var cur strings.Builder
	var curY, curSize float64
	var curBold bool
	flush := func() {
		text := strings.TrimSpace(cur.String())
		if text != "" {
			out = append(out, Line{Text: text, FontSize: curSize, Bold: curBold})
		}
		cur.Reset()
		curSize = 0
		curBold = false
	}
	for i, ch := range sorted {
		if i == 0 || math.Abs(ch.Y-curY) > yTolerance {
			flush()
			curY = ch.Y
		}
		cur.WriteString(ch.S)
		if ch.FontSize > curSize {
			curSize = ch.FontSize
		}
		if strings.Contains(ch.Font, "Bold") {
			curBold = true
		}
	}
	flush()
	return out
}
