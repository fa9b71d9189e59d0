package extractors

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/custodia-labs/docpipe/internal/core/domain"
	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

var (
	_ driven.TextExtractor = (*PlainTextExtractor)(nil)
	_ driven.TextExtractor = (*MarkdownExtractor)(nil)
	_ driven.TextExtractor = (*HTMLExtractor)(nil)
)

// minUsefulRunes is the text length below which quality is scaled down.
const minUsefulRunes = 200

// Score rates extracted text in [0,1]: the share of letters, digits and
// ordinary whitespace, scaled down for very short text. Garbled or empty
// extraction scores low and sends the document to OCR.
func Score(text string) float64 {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return 0
	}

	good := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '\n' || r == '\t' || unicode.IsPunct(r) {
			good++
		}
	}
	score := float64(good) / float64(total)
	if total < minUsefulRunes {
		score *= float64(total) / minUsefulRunes
	}
	return score
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", domain.Permanent(fmt.Errorf("%s is not valid UTF-8", path))
	}
	return string(data), nil
}

func normaliseLines(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(content)
}

// PlainTextExtractor handles plain text files.
type PlainTextExtractor struct{}

func (e *PlainTextExtractor) Extract(ctx context.Context, path, mimeType string) (*driven.ExtractedText, error) {
	content, err := readText(path)
	if err != nil {
		return nil, err
	}
	text := normaliseLines(content)
	return &driven.ExtractedText{Text: text, Quality: Score(text)}, nil
}

func (e *PlainTextExtractor) SupportedTypes() []string {
	return []string{"text/plain", "text/csv", "application/json"}
}

func (e *PlainTextExtractor) Priority() int {
	return 10
}

// MarkdownExtractor handles Markdown files.
type MarkdownExtractor struct{}

func (e *MarkdownExtractor) Extract(ctx context.Context, path, mimeType string) (*driven.ExtractedText, error) {
	content, err := readText(path)
	if err != nil {
		return nil, err
	}
	text := normaliseLines(content)
	return &driven.ExtractedText{Text: text, Quality: Score(text)}, nil
}

func (e *MarkdownExtractor) SupportedTypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

func (e *MarkdownExtractor) Priority() int {
	return 50
}

// HTMLExtractor strips markup from HTML files.
type HTMLExtractor struct{}

func (e *HTMLExtractor) Extract(ctx context.Context, path, mimeType string) (*driven.ExtractedText, error) {
	content, err := readText(path)
	if err != nil {
		return nil, err
	}

	content = removeHTMLBlocks(content, "script")
	content = removeHTMLBlocks(content, "style")
	content = stripHTMLTags(content)
	content = decodeHTMLEntities(content)
	for strings.Contains(content, "  ") {
		content = strings.ReplaceAll(content, "  ", " ")
	}
	text := normaliseLines(content)
	return &driven.ExtractedText{Text: text, Quality: Score(text)}, nil
}

func (e *HTMLExtractor) SupportedTypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

func (e *HTMLExtractor) Priority() int {
	return 50
}

func removeHTMLBlocks(content, tagName string) string {
	result := content
	startTag := "<" + strings.ToLower(tagName)
	endTag := "</" + strings.ToLower(tagName) + ">"

	for {
		startIdx := strings.Index(strings.ToLower(result), startTag)
		if startIdx == -1 {
			break
		}
		endIdx := strings.Index(strings.ToLower(result[startIdx:]), endTag)
		if endIdx == -1 {
			break
		}
		result = result[:startIdx] + result[startIdx+endIdx+len(endTag):]
	}

	return result
}

func stripHTMLTags(content string) string {
	var result strings.Builder
	inTag := false

	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			result.WriteRune(' ')
		case !inTag:
			result.WriteRune(r)
		}
	}

	return result.String()
}

var htmlEntities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&apos;", "'",
	"&#39;", "'",
)

func decodeHTMLEntities(content string) string {
	return htmlEntities.Replace(content)
}
