package template

import (
	"os"
	"strings"

	"github.com/fumiama/go-docx"
)

// parseDOCX reads a Word template. Heading paragraph styles play the role
// the typography detector plays for PDFs: a "Heading N" style marks the
// line as a styled heading.
func parseDOCX(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return Result{}, err
	}
	doc, err := docx.Parse(f, st.Size())
	if err != nil {
		return Result{}, err
	}

	var lines []Line
	var raw strings.Builder
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		text := paragraphText(para)
		if text == "" {
			continue
		}
		raw.WriteString(text)
		raw.WriteString("\n")
		lines = append(lines, Line{Text: text, Bold: headingStyleLevel(para) > 0})
	}
	return fromLines(lines, raw.String()), nil
}

func headingStyleLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if !strings.HasPrefix(style, "heading") {
		return 0
	}
	switch strings.TrimPrefix(style, "heading") {
	case "1":
		return 1
	case "2":
		return 2
	case "3":
		return 3
	case "4":
		return 4
	case "5":
		return 5
	case "6":
		return 6
	}
	return 0
}

func paragraphText(para *docx.Paragraph) string {
	var b strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				b.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(b.String())
}
