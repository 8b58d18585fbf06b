package extract

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/go-shiori/go-readability"

	"github.com/studyforge/studyforge/internal/pipeline"
)

// extractHTML pulls the main article content out of an HTML document,
// stripping navigation and boilerplate.
func extractHTML(data []byte) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(data), &url.URL{})
	if err != nil {
		return "", fmt.Errorf("%w: readability: %v", pipeline.ErrUnreadableDocument, err)
	}
	text := normalizeText(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("%w: no readable content in HTML", pipeline.ErrUnreadableDocument)
	}
	return text, nil
}
