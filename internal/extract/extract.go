// Package extract implements the pipeline's extractor boundary for the
// supported document kinds. Every failure to yield text wraps
// pipeline.ErrUnreadableDocument so it surfaces before any model call.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/studyforge/studyforge/internal/pipeline"
)

// Router dispatches a document to the extractor matching its content type or
// file extension.
type Router struct{}

// NewRouter creates the default document extractor.
func NewRouter() *Router { return &Router{} }

// Extract implements pipeline.Extractor.
func (r *Router) Extract(ctx context.Context, doc pipeline.Document) (string, error) {
	data := doc.Data
	if len(data) == 0 && doc.Path != "" {
		var err error
		data, err = os.ReadFile(doc.Path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", pipeline.ErrUnreadableDocument, err)
		}
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: document is empty", pipeline.ErrUnreadableDocument)
	}

	switch kind(doc, data) {
	case "pdf":
		return extractPDF(ctx, data)
	case "html":
		return extractHTML(data)
	default:
		return extractText(data)
	}
}

func kind(doc pipeline.Document, data []byte) string {
	ct := strings.ToLower(doc.ContentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return "pdf"
	case strings.Contains(ct, "html"):
		return "html"
	case strings.Contains(ct, "text/"):
		return "text"
	}
	switch strings.ToLower(filepath.Ext(doc.Name)) {
	case ".pdf":
		return "pdf"
	case ".html", ".htm":
		return "html"
	case ".txt", ".md", ".markdown":
		return "text"
	}
	if len(data) >= 5 && string(data[:5]) == "%PDF-" {
		return "pdf"
	}
	return "text"
}

// extractText passes plain text through with whitespace normalisation.
func extractText(data []byte) (string, error) {
	text := normalizeText(string(data))
	if text == "" {
		return "", fmt.Errorf("%w: no text content", pipeline.ErrUnreadableDocument)
	}
	return text, nil
}

// normalizeText collapses runs of whitespace while keeping line structure.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var sb strings.Builder
	prevSpace := false
	prevNewline := false
	for _, r := range text {
		switch {
		case r == '\n':
			if !prevNewline && sb.Len() > 0 {
				sb.WriteByte('\n')
				prevNewline = true
				prevSpace = true
			}
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace = false
			prevNewline = false
		}
	}
	return strings.TrimSpace(sb.String())
}
