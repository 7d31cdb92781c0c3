package converter

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// TextLayer extracts the embedded text layer of a PDF in-process and wraps
// it in a minimal HTML document. Scanned PDFs without text produce an
// empty body.
type TextLayer struct{}

// NewTextLayer returns the pure-Go backend.
func NewTextLayer() *TextLayer { return &TextLayer{} }

func (t *TextLayer) Name() string { return "textlayer" }

// Convert extracts text page by page and writes the HTML to outputPath.
func (t *TextLayer) Convert(ctx context.Context, inputPath, outputPath string) (err error) {
	defer func() {
		// the parser panics on some malformed cross-reference tables
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf %s: %v", filepath.Base(inputPath), r)
		}
	}()

	pages, err := extractPages(ctx, inputPath)
	if err != nil {
		return err
	}

	doc := renderHTML(strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath)), pages)
	if err := os.WriteFile(outputPath, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write html %s: %w", filepath.Base(outputPath), err)
	}
	return checkOutput(outputPath)
}

func extractPages(ctx context.Context, path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	fonts := make(map[string]*pdf.Font)
	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("read pdf page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// renderHTML builds a standalone document with one section per page and one
// paragraph per blank-line separated block.
func renderHTML(title string, pages []string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title></head><body>")
	for i, page := range pages {
		fmt.Fprintf(&b, "<section class=\"page\" data-page=\"%d\">", i+1)
		for _, block := range strings.Split(page, "\n\n") {
			block = strings.TrimSpace(block)
			if block == "" {
				continue
			}
			b.WriteString("<p>")
			b.WriteString(strings.ReplaceAll(html.EscapeString(block), "\n", "<br>"))
			b.WriteString("</p>")
		}
		b.WriteString("</section>")
	}
	b.WriteString("</body></html>")
	return b.String()
}
