package domain

import "time"

// ReviewSession is the unit of work a reviewer owns.
type ReviewSession struct {
	ID                  int64
	Title               string
	Criteria            []Criterion
	ArticlesCount       int
	FilesCount          int
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastEvaluatedAt     *time.Time
	AIEvaluationRunning bool
}

// CriteriaText renders the session criteria as newline-joined text.
func (s ReviewSession) CriteriaText() string {
	return CriteriaText(s.Criteria)
}

// AISettings is one versioned row of model configuration.
type AISettings struct {
	ID           int64   `validate:"gte=0"`
	Instructions string  `validate:"required"`
	Temperature  float64 `validate:"gte=0,lte=2"`
	MaxTokens    int     `validate:"gt=0"`
	Seed         *int64
	Model        string
	BatchSize    int `validate:"gte=0"`
	CreatedAt    time.Time
}
