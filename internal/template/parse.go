package template

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Parse reads a template document and extracts its section structure.
// It always returns a usable Result: any parse failure degrades to the
// default hierarchy, with the underlying error returned for logging only.
func Parse(path string) (Result, error) {
	var (
		res Result
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		res, err = parsePDF(path)
	case ".docx":
		res, err = parseDOCX(path)
	default:
		res, err = parseTextFile(path)
	}
	if err != nil {
		return Result{
			Sections: Default(),
			RawText:  res.RawText,
			Total:    Count(Default()),
			Fallback: true,
		}, fmt.Errorf("parse template %s: %w", path, err)
	}
	return res, nil
}

// ParseText extracts structure from plain text, which carries no
// typography, so only the numbering detector can confirm headings.
func ParseText(text string) Result {
	var lines []Line
	for _, l := range strings.Split(text, "\n") {
		lines = append(lines, Line{Text: l})
	}
	return fromLines(lines, text)
}
