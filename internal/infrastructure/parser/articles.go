package parser

import (
	"regexp"
	"strconv"
	"strings"

	"RevAI/internal/domain"
	"RevAI/internal/ports"
)

var (
	markerExpr      = regexp.MustCompile(`(?m)^[ \t]*<(\d+)>`)
	titleHeaderExpr = regexp.MustCompile(`(?m)^[ \t]*Title[ \t]*:?[ \t\r]*$`)
	// "Abstract" alone on its line, or "Abstract:" followed by inline text.
	// A title line such as "Abstract algebra ..." is not a header.
	abstractHeaderExpr = regexp.MustCompile(`(?m)^[ \t]*Abstract[ \t]*(?::|\r?$)`)
	// A title runs until one of these section headers; Abstract is included so that
	// exports without a Source/Author block still terminate the title.
	titleEndExpr    = regexp.MustCompile(`(?m)^[ \t]*(?:(?:Source|Authors?|Institution|Publisher)\b|Abstract[ \t]*(?::|\r?$))`)
	abstractEndExpr = regexp.MustCompile(`Link to|Copyright`)
)

// ParseArticles splits a flat-file export into article records using <N> line markers.
// Text before the first marker is ignored. No markers yields an empty slice.
func ParseArticles(text string) []domain.ArticleRecord {
	matches := markerExpr.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []domain.ArticleRecord{}
	}

	records := make([]domain.ArticleRecord, 0, len(matches))
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}

		segment := text[m[0]:end]
		body := text[m[1]:end]

		records = append(records, domain.ArticleRecord{
			Number:   markerNumber(text[m[2]:m[3]], i+1),
			Title:    extractTitle(body),
			Abstract: extractAbstract(body),
			FullText: strings.TrimSpace(segment),
		})
	}

	return records
}

// MarkerParser exposes ParseArticles as a ports.ArticleParser.
type MarkerParser struct{}

var _ ports.ArticleParser = MarkerParser{}

// Parse implements ports.ArticleParser.
func (MarkerParser) Parse(text string) []domain.ArticleRecord {
	return ParseArticles(text)
}

func markerNumber(raw string, position int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return position
	}
	return n
}

func extractTitle(body string) string {
	loc := titleHeaderExpr.FindStringIndex(body)
	if loc == nil {
		return ""
	}

	rest := body[loc[1]:]
	if end := titleEndExpr.FindStringIndex(rest); end != nil {
		rest = rest[:end[0]]
	}
	return strings.TrimSpace(rest)
}

func extractAbstract(body string) string {
	loc := abstractHeaderExpr.FindStringIndex(body)
	if loc == nil {
		return ""
	}

	rest := body[loc[1]:]
	if end := abstractEndExpr.FindStringIndex(rest); end != nil {
		rest = rest[:end[0]]
	}
	return strings.TrimSpace(rest)
}
