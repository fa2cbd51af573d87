// Package export renders finished documents to downloadable formats and
// hands them to the artifact store.
package export

import (
	"bytes"
	"context"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"strategist/internal/artifact"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// HTML converts generated markdown to a standalone HTML page.
func HTML(title, markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	var page bytes.Buffer
	fmt.Fprintf(&page, `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: Georgia, serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
table { border-collapse: collapse; }
th, td { border: 1px solid #999; padding: 0.3rem 0.6rem; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; }
</style>
</head>
<body>
`, html.EscapeString(title))
	page.Write(body.Bytes())
	page.WriteString("\n</body>\n</html>\n")
	return page.Bytes(), nil
}

// Save writes the markdown source and its HTML rendering for one
// document into the store.
func Save(ctx context.Context, store artifact.Store, docID, title, markdown string) error {
	if err := store.Put(ctx, docID, "strategy.md", []byte(markdown)); err != nil {
		return fmt.Errorf("store markdown: %w", err)
	}
	page, err := HTML(title, markdown)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, docID, "strategy.html", page); err != nil {
		return fmt.Errorf("store html: %w", err)
	}
	return nil
}
