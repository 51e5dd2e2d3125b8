package domain

import (
	"fmt"
	"strings"
	"time"
)

// Decision is the screening verdict for one article.
type Decision string

const (
	DecisionInclude Decision = "Include"
	DecisionExclude Decision = "Exclude"
	DecisionUnsure  Decision = "Unsure"
)

// ParseDecision canonicalizes a decision token ("include", "EXCLUDE.", ...).
func ParseDecision(raw string) (Decision, error) {
	token := strings.TrimRight(strings.TrimSpace(raw), ".!*")
	switch strings.ToLower(token) {
	case "include":
		return DecisionInclude, nil
	case "exclude":
		return DecisionExclude, nil
	case "unsure":
		return DecisionUnsure, nil
	default:
		return "", fmt.Errorf("%w: unknown decision %q", ErrValidation, raw)
	}
}

// Criterion is one inclusion rule of a review session.
type Criterion struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// CriteriaText joins criteria in list order, one per line.
func CriteriaText(criteria []Criterion) string {
	lines := make([]string, 0, len(criteria))
	for _, c := range criteria {
		lines = append(lines, c.Text)
	}
	return strings.Join(lines, "\n")
}

// ArticleRecord is a single article extracted from an uploaded export.
type ArticleRecord struct {
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	FullText string `json:"full_text"`
}

// Article is a stored record together with AI and human screening state.
type Article struct {
	ID                int64
	FileID            int64
	Number            int
	Title             string
	Abstract          string
	FullText          string
	AIDecision        *Decision
	AIExplanation     *string
	AISettingsID      *int64
	UserDecision      *Decision
	NeedsReview       bool
	NeedsAIEvaluation bool
	EvaluatedAt       *time.Time
}

// PendingArticle is an article leased to an evaluation run.
type PendingArticle struct {
	Article
	SessionID int64
}

// Evaluation is the outcome returned by the evaluation client.
type Evaluation struct {
	Decision    Decision
	Explanation string
	// Attempts counts model calls, including the failed ones.
	Attempts int
	// Fallback reports that no well-formed answer was obtained.
	Fallback bool
}

// File is one uploaded batch of articles.
type File struct {
	ID            int64
	SessionID     int64
	Filename      string
	ArticlesCount int
	CreatedAt     time.Time
}
