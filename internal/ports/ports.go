package ports

import (
	"context"
	"errors"
	"time"

	"RevAI/internal/domain"
)

// SessionStore persists review sessions and their evaluation bookkeeping.
type SessionStore interface {
	CreateSession(ctx context.Context, title string, criteria []domain.Criterion) (domain.ReviewSession, error)
	GetSession(ctx context.Context, id int64) (domain.ReviewSession, error)
	MarkSessionEvaluationRunning(ctx context.Context, id int64) error
	MarkSessionEvaluationAwaiting(ctx context.Context, id int64, evaluatedAt time.Time) error
	RefreshSessionCounts(ctx context.Context, id int64) error
}

// FileStore persists uploaded files.
type FileStore interface {
	CreateFile(ctx context.Context, sessionID int64, filename string, articlesCount int) (domain.File, error)
	DeleteFile(ctx context.Context, id int64) error
	RecountFile(ctx context.Context, id int64) (int, error)
	ListFileIDs(ctx context.Context, sessionID int64) ([]int64, error)
}

// ArticleStore persists articles and the evaluation queue state carried on them.
type ArticleStore interface {
	// InsertArticles stores records for a file and reports how many rows were written,
	// which may be non-zero even when an error is returned.
	InsertArticles(ctx context.Context, fileID int64, records []domain.ArticleRecord) (int, error)
	GetArticles(ctx context.Context, fileIDs []int64) ([]domain.Article, error)
	GetArticle(ctx context.Context, id int64) (domain.Article, error)
	MarkArticlesForEvaluation(ctx context.Context, sessionID int64, ids []int64) (int, error)
	// ClaimPendingArticles leases up to limit articles awaiting evaluation to owner.
	ClaimPendingArticles(ctx context.Context, limit int, lease time.Duration, owner string) ([]domain.PendingArticle, error)
	// UpdateArticleEvaluation stores an AI outcome. A non-empty owner must still hold the
	// article's lease, otherwise nothing is written and domain.ErrLeaseLost is returned.
	UpdateArticleEvaluation(ctx context.Context, id int64, settingsID int64, owner string, eval domain.Evaluation) error
	RecordUserDecision(ctx context.Context, id int64, decision domain.Decision) error
	CountPendingArticles(ctx context.Context, sessionID int64) (int, error)
}

// SettingsStore resolves AI settings rows. Version 0 selects the latest row.
type SettingsStore interface {
	GetAISettings(ctx context.Context, version int64) (domain.AISettings, error)
}

// Store is the full gateway used by the application.
type Store interface {
	SessionStore
	FileStore
	ArticleStore
	SettingsStore
}

// ChatRequest is one chat-style completion call.
type ChatRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	Seed        *int64
}

var (
	// ErrChatRateLimited is returned by chat clients when the provider throttles requests.
	ErrChatRateLimited = errors.New("chat provider rate limited")
	// ErrChatTransport covers network failures and provider-side 5xx responses.
	ErrChatTransport = errors.New("chat provider transport error")
)

// ChatClient sends completion requests to an LLM API (e.g., ChatGPT).
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// Evaluator screens one article against criteria text.
type Evaluator interface {
	// Validate reports configuration problems with settings before any article is touched.
	Validate(settings domain.AISettings) error
	Evaluate(ctx context.Context, title, abstract, criteria string, settings domain.AISettings) (domain.Evaluation, error)
}

// Decoder turns raw upload bytes into plain text for the article parser.
type Decoder interface {
	Name() string
	Decode(raw []byte) (string, error)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// DecoderResolver picks the decoder for an uploaded file name.
type DecoderResolver interface {
	Resolve(filename string) Decoder
}

// ArticleParser splits decoded export text into article records.
type ArticleParser interface {
	Parse(text string) []domain.ArticleRecord
}

// Recorder receives pipeline observations for metrics.
type Recorder interface {
	ObserveUpload(articles int)
	ObserveEvaluation(eval domain.Evaluation)
	ObserveBatch(claimed, failed int, elapsed time.Duration)
}
