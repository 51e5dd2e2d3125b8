package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"RevAI/internal/domain"
	"RevAI/internal/ports"
)

const (
	defaultBatchSize = 10
	defaultLease     = 10 * time.Minute
)

// BatchDeps wires the batch evaluation orchestrator.
type BatchDeps struct {
	Store     ports.Store
	Evaluator ports.Evaluator
	Recorder  ports.Recorder
	Logger    *slog.Logger
	BatchSize int
	Lease     time.Duration
	// Owner identifies this process in article leases; a random id is used when empty.
	Owner string
	Now   func() time.Time
}

// BatchOrchestrator evaluates claimed articles one at a time.
type BatchOrchestrator struct {
	store     ports.Store
	evaluator ports.Evaluator
	recorder  ports.Recorder
	logger    *slog.Logger
	batchSize int
	lease     time.Duration
	owner     string
	now       func() time.Time
}

// BatchResult summarizes one orchestrator run.
type BatchResult struct {
	SettingsID int64
	Claimed    int
	Evaluated  int
	Failed     int
	Fallbacks  int
	// LeaseLost counts results discarded because the article was re-marked or reclaimed meanwhile.
	LeaseLost int
}

// NewBatchOrchestrator constructs the orchestrator.
func NewBatchOrchestrator(deps BatchDeps) *BatchOrchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	lease := deps.Lease
	if lease <= 0 {
		lease = defaultLease
	}
	owner := deps.Owner
	if owner == "" {
		owner = "revai-" + uuid.NewString()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &BatchOrchestrator{
		store:     deps.Store,
		evaluator: deps.Evaluator,
		recorder:  recorder,
		logger:    logger.With("component", "batch", "owner", owner),
		batchSize: batchSize,
		lease:     lease,
		owner:     owner,
		now:       now,
	}
}

// ProcessBatch claims up to one batch of pending articles and evaluates them
// sequentially. Configuration and claim failures abort the run; failures on a
// single article are logged and the run moves on to the next one.
func (b *BatchOrchestrator) ProcessBatch(ctx context.Context, settingsVersion int64) (BatchResult, error) {
	if b.evaluator == nil {
		return BatchResult{}, fmt.Errorf("%w: evaluator", domain.ErrNotConfigured)
	}

	started := b.now()
	settings, err := b.store.GetAISettings(ctx, settingsVersion)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load ai settings: %w", err)
	}
	if err := b.evaluator.Validate(settings); err != nil {
		return BatchResult{SettingsID: settings.ID}, err
	}
	result := BatchResult{SettingsID: settings.ID}

	limit := b.batchSize
	if settings.BatchSize > 0 {
		limit = settings.BatchSize
	}

	pending, err := b.store.ClaimPendingArticles(ctx, limit, b.lease, b.owner)
	if err != nil {
		return result, fmt.Errorf("claim pending articles: %w", err)
	}
	result.Claimed = len(pending)
	if len(pending) == 0 {
		b.recorder.ObserveBatch(0, 0, b.now().Sub(started))
		return result, nil
	}

	criteria := make(map[int64]string)
	seen := make(map[int64]bool)
	touched := make([]int64, 0)
	for _, article := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !seen[article.SessionID] {
			seen[article.SessionID] = true
			touched = append(touched, article.SessionID)
		}

		eval, err := b.processArticle(ctx, article, settings, criteria)
		if errors.Is(err, domain.ErrLeaseLost) {
			result.LeaseLost++
			b.logger.Warn("article lease lost, result discarded",
				"article_id", article.ID,
				"session_id", article.SessionID,
				"error", err)
			continue
		}
		if err != nil {
			result.Failed++
			b.logger.Error("article evaluation failed",
				"article_id", article.ID,
				"session_id", article.SessionID,
				"error", err)
			continue
		}
		result.Evaluated++
		if eval.Fallback {
			result.Fallbacks++
		}
	}

	b.settleSessions(ctx, touched)

	elapsed := b.now().Sub(started)
	b.recorder.ObserveBatch(result.Claimed, result.Failed, elapsed)
	b.logger.Info("batch finished",
		"settings_id", result.SettingsID,
		"claimed", result.Claimed,
		"evaluated", result.Evaluated,
		"failed", result.Failed,
		"fallbacks", result.Fallbacks,
		"lease_lost", result.LeaseLost,
		"elapsed", elapsed)
	return result, nil
}

func (b *BatchOrchestrator) processArticle(ctx context.Context, article domain.PendingArticle, settings domain.AISettings, criteria map[int64]string) (eval domain.Evaluation, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	text, ok := criteria[article.SessionID]
	if !ok {
		session, err := b.store.GetSession(ctx, article.SessionID)
		if err != nil {
			return domain.Evaluation{}, fmt.Errorf("load session: %w", err)
		}
		text = session.CriteriaText()
		criteria[article.SessionID] = text
	}

	title, abstract := evaluationInput(article.Article)
	eval, err = b.evaluator.Evaluate(ctx, title, abstract, text, settings)
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("evaluate: %w", err)
	}
	if err := b.store.UpdateArticleEvaluation(ctx, article.ID, settings.ID, b.owner, eval); err != nil {
		return domain.Evaluation{}, fmt.Errorf("store evaluation: %w", err)
	}

	b.recorder.ObserveEvaluation(eval)
	return eval, nil
}

// settleSessions marks sessions whose queue is drained as awaiting review.
func (b *BatchOrchestrator) settleSessions(ctx context.Context, sessionIDs []int64) {
	for _, id := range sessionIDs {
		remaining, err := b.store.CountPendingArticles(ctx, id)
		if err != nil {
			b.logger.Warn("count pending articles failed", "session_id", id, "error", err)
			continue
		}
		if remaining > 0 {
			continue
		}
		if err := b.store.MarkSessionEvaluationAwaiting(ctx, id, b.now()); err != nil {
			b.logger.Warn("mark session awaiting failed", "session_id", id, "error", err)
		}
	}
}
