// Package extract turns uploaded files into plain text for chunking.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/net/html"

	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

var (
	plainExtensions = map[string]bool{".txt": true, ".md": true, ".csv": true, ".json": true}
	fitzExtensions  = map[string]bool{".pdf": true, ".epub": true}
	htmlExtensions  = map[string]bool{".html": true, ".htm": true}
)

// Extractor handles plain text, HTML, PDF and EPUB uploads.
type Extractor struct {
	tempDir string
}

var _ port.TextExtractor = (*Extractor)(nil)

// New creates an extractor. tempDir holds the scratch copies MuPDF reads from ("" = os temp dir).
func New(tempDir string) *Extractor {
	return &Extractor{tempDir: tempDir}
}

// Supports reports whether the extension is handled.
func (e *Extractor) Supports(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return plainExtensions[ext] || fitzExtensions[ext] || htmlExtensions[ext]
}

// Extract returns the text of the file.
func (e *Extractor) Extract(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case plainExtensions[ext]:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8 text", port.ErrUnsupportedFile, filename)
		}
		return string(data), nil
	case htmlExtensions[ext]:
		return htmlText(bytes.NewReader(data))
	case fitzExtensions[ext]:
		return e.fitzText(ext, data)
	default:
		return "", fmt.Errorf("%w: %s", port.ErrUnsupportedFile, ext)
	}
}

// fitzText writes the upload to a scratch file and reads every page through MuPDF.
func (e *Extractor) fitzText(ext string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(e.tempDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	doc, err := fitz.New(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("open %s document: %w", strings.TrimPrefix(ext, "."), err)
	}
	defer doc.Close()

	var pages []string
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err == nil && strings.TrimSpace(text) != "" {
			pages = append(pages, strings.TrimSpace(text))
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// skippedElements never contribute visible text.
var skippedElements = map[string]bool{"script": true, "style": true, "noscript": true, "head": true}

// blockElements end a paragraph.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "blockquote": true,
}

func htmlText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var paragraphs []string
	var current strings.Builder
	endParagraph := func() {
		if p := strings.Join(strings.Fields(current.String()), " "); p != "" {
			paragraphs = append(paragraphs, p)
		}
		current.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			current.WriteString(n.Data)
			current.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			endParagraph()
		}
	}
	walk(doc)
	endParagraph()

	return strings.Join(paragraphs, "\n\n"), nil
}
