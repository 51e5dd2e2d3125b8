package evaluation

import (
	"errors"
	"regexp"
	"strings"

	"RevAI/internal/domain"
)

var (
	// ErrMissingDecision means no "Decision: Include|Exclude|Unsure" line was found.
	ErrMissingDecision = errors.New("model reply has no decision line")
	// ErrMissingExplanation means the "Explanation:" label is absent or followed by nothing.
	ErrMissingExplanation = errors.New("model reply has no explanation")
)

var (
	decisionExpr    = regexp.MustCompile(`(?i)decision:\s*(include|exclude|unsure)\b`)
	explanationExpr = regexp.MustCompile(`(?is)explanation:\s*(.*)$`)
	// "**Decision** :", "`Explanation:`" -> "Decision:", "Explanation:"
	labelExpr = regexp.MustCompile("(?i)[*`]*\\b(decision|explanation)[*`]*[ \t]*:[*`]*")
	// "Decision: **Include**." -> "Decision: Include"
	decisionTokenExpr = regexp.MustCompile("(?i)(decision:\\s*)[*`]*(include|exclude|unsure)[*`]*[.!,;]*")
)

// ParseResponse extracts the decision and explanation from a raw model reply.
// Failures are reported as ErrMissingDecision or ErrMissingExplanation.
func ParseResponse(raw string) (domain.Decision, string, error) {
	text := normalizeResponse(raw)

	m := decisionExpr.FindStringSubmatchIndex(text)
	if m == nil {
		return "", "", ErrMissingDecision
	}
	decision, err := domain.ParseDecision(text[m[2]:m[3]])
	if err != nil {
		return "", "", ErrMissingDecision
	}

	e := explanationExpr.FindStringSubmatchIndex(text)
	if e == nil {
		return "", "", ErrMissingExplanation
	}
	end := e[3]
	if m[0] > e[2] {
		// Explanation came first; it stops where the decision line starts.
		end = m[0]
	}
	explanation := strings.TrimSpace(text[e[2]:end])
	if explanation == "" {
		return "", "", ErrMissingExplanation
	}

	return decision, explanation, nil
}

func normalizeResponse(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = labelExpr.ReplaceAllString(text, "$1:")
	text = decisionTokenExpr.ReplaceAllString(text, "$1$2")
	return strings.TrimSpace(text)
}
