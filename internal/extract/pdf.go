package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/studyforge/studyforge/internal/pipeline"
)

// extractPDF pulls text out of a PDF by walking each page's content stream.
// Encrypted or corrupt files, and scanned-image-only PDFs that carry no text
// operators, fail as unreadable.
func extractPDF(ctx context.Context, data []byte) (string, error) {
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return "", fmt.Errorf("%w: pdfcpu read: %v", pipeline.ErrUnreadableDocument, err)
	}

	var all strings.Builder
	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		pageText := extractPageText(pdfCtx, pageNr)
		if pageText == "" {
			continue
		}
		if all.Len() > 0 {
			all.WriteByte('\n')
		}
		all.WriteString(pageText)
	}

	if all.Len() == 0 {
		return "", fmt.Errorf("%w: no text content found in PDF", pipeline.ErrUnreadableDocument)
	}
	return all.String(), nil
}

// extractPageText extracts text from a single PDF page content stream.
func extractPageText(pdfCtx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(pdfCtx, pageNr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// extractTextFromStream parses PDF content stream operators for text.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder

	appendStrings := func(line []byte) {
		for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
			if text := decodePDFString(m[1]); text != "" {
				sb.WriteString(text)
			}
		}
	}

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		// Tj operator: (text) Tj, and TJ arrays: [(text) -100 (more)] TJ
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			appendStrings(line)

		// ' operator (move to next line and show text): (text) '
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			sb.WriteByte('\n')
			appendStrings(line)

		// Td/TD operators reposition text; keep a word boundary.
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}

		// T* moves to the start of the next line.
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return normalizeText(sb.String())
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			// Octal escape (e.g. \040 for space).
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				sb.WriteByte(byte(val))
			} else {
				sb.WriteByte(raw[i])
			}
		}
	}
	return sb.String()
}
