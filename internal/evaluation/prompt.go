// Package evaluation turns an article and a set of inclusion criteria into a
// screening decision by prompting a chat model and parsing its reply.
package evaluation

import (
	"fmt"
	"strings"

	"RevAI/internal/domain"
)

const (
	missingTitle    = "no title available"
	missingAbstract = "no abstract available"
	missingCriteria = "no criteria provided"
)

// Prompt is the rendered pair of messages sent to the model.
type Prompt struct {
	System string
	User   string
}

// BuildPrompt renders the user prompt for one article. The system message is
// taken verbatim from settings.Instructions. No I/O happens here.
func BuildPrompt(title, abstract, criteria string, settings domain.AISettings) Prompt {
	var b strings.Builder

	b.WriteString("Screen the following article for a systematic literature review.\n\n")
	b.WriteString("Inclusion criteria:\n")
	b.WriteString(orPlaceholder(criteria, missingCriteria))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Title: %s\n\n", orPlaceholder(title, missingTitle))
	fmt.Fprintf(&b, "Abstract: %s\n\n", orPlaceholder(abstract, missingAbstract))
	b.WriteString("Answer with exactly two labeled lines and nothing else:\n")
	fmt.Fprintf(&b, "Decision: one of %s, %s or %s\n", domain.DecisionInclude, domain.DecisionExclude, domain.DecisionUnsure)
	b.WriteString("Explanation: a short justification referring to the criteria")

	return Prompt{
		System: settings.Instructions,
		User:   b.String(),
	}
}

func orPlaceholder(value, placeholder string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return placeholder
}
