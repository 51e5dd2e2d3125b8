package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"RevAI/internal/domain"
	"RevAI/internal/ports"
)

// ReviewDeps wires the adapters used by request-driven review actions.
type ReviewDeps struct {
	Store     ports.Store
	Evaluator ports.Evaluator
	Decoders  ports.DecoderResolver
	Parser    ports.ArticleParser
	Recorder  ports.Recorder
	Logger    *slog.Logger
	// SettingsVersion pins an ai_settings row; 0 means the latest row.
	SettingsVersion int64
}

// Review implements uploads, marking, single evaluation and human decisions.
type Review struct {
	store           ports.Store
	evaluator       ports.Evaluator
	decoders        ports.DecoderResolver
	parser          ports.ArticleParser
	recorder        ports.Recorder
	logger          *slog.Logger
	settingsVersion int64
}

// UploadResult reports the outcome of an upload.
type UploadResult struct {
	FileID       int64
	ArticleCount int
}

// SingleEvaluation is the input of EvaluateSingle. Empty title and abstract
// are loaded from the stored article; empty criteria come from its session.
type SingleEvaluation struct {
	ArticleID int64
	SessionID int64
	Title     string
	Abstract  string
	Criteria  string
	// Version overrides the configured settings version when non-zero.
	Version int64
}

// NewReview constructs the review use case.
func NewReview(deps ReviewDeps) *Review {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Review{
		store:           deps.Store,
		evaluator:       deps.Evaluator,
		decoders:        deps.Decoders,
		parser:          deps.Parser,
		recorder:        recorder,
		logger:          logger.With("component", "review"),
		settingsVersion: deps.SettingsVersion,
	}
}

// CreateSession opens a new review session with ordered criteria.
func (r *Review) CreateSession(ctx context.Context, title string, criteria []domain.Criterion) (domain.ReviewSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.ReviewSession{}, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	session, err := r.store.CreateSession(ctx, title, criteria)
	if err != nil {
		return domain.ReviewSession{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession returns one session.
func (r *Review) GetSession(ctx context.Context, id int64) (domain.ReviewSession, error) {
	session, err := r.store.GetSession(ctx, id)
	if err != nil {
		return domain.ReviewSession{}, fmt.Errorf("get session %d: %w", id, err)
	}
	return session, nil
}

// Upload decodes and parses an export, then stores a File with its articles.
// When no article can be stored the File row is removed again; when only part
// of them is stored the file count is corrected to what was written.
func (r *Review) Upload(ctx context.Context, sessionID int64, filename string, raw []byte) (UploadResult, error) {
	if sessionID <= 0 {
		return UploadResult{}, fmt.Errorf("%w: sessionId is required", domain.ErrValidation)
	}
	if len(raw) == 0 {
		return UploadResult{}, fmt.Errorf("%w: uploaded file is empty", domain.ErrValidation)
	}

	text, err := r.decoders.Resolve(filename).Decode(raw)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	records := r.parser.Parse(text)
	if len(records) == 0 {
		return UploadResult{}, domain.ErrNoArticles
	}

	if _, err := r.store.GetSession(ctx, sessionID); err != nil {
		return UploadResult{}, fmt.Errorf("load session %d: %w", sessionID, err)
	}

	file, err := r.store.CreateFile(ctx, sessionID, filename, len(records))
	if err != nil {
		return UploadResult{}, fmt.Errorf("create file: %w", err)
	}

	inserted, insertErr := r.store.InsertArticles(ctx, file.ID, records)
	count := inserted
	switch {
	case insertErr != nil && inserted == 0:
		if err := r.store.DeleteFile(ctx, file.ID); err != nil {
			r.logger.Error("compensating file delete failed", "file_id", file.ID, "error", err)
		}
		return UploadResult{}, fmt.Errorf("insert articles: %w", insertErr)
	case insertErr != nil:
		r.logger.Warn("articles partially inserted",
			"file_id", file.ID,
			"parsed", len(records),
			"inserted", inserted,
			"error", insertErr)
		if count, err = r.store.RecountFile(ctx, file.ID); err != nil {
			return UploadResult{}, fmt.Errorf("recount file %d: %w", file.ID, err)
		}
	}

	if err := r.store.RefreshSessionCounts(ctx, sessionID); err != nil {
		return UploadResult{}, fmt.Errorf("refresh session counts: %w", err)
	}

	r.recorder.ObserveUpload(count)
	r.logger.Info("file uploaded", "session_id", sessionID, "file_id", file.ID, "articles", count)
	return UploadResult{FileID: file.ID, ArticleCount: count}, nil
}

// MarkForEvaluation queues articles of a session for the batch orchestrator.
func (r *Review) MarkForEvaluation(ctx context.Context, sessionID int64, articleIDs []int64) (int, error) {
	if sessionID <= 0 {
		return 0, fmt.Errorf("%w: sessionId is required", domain.ErrValidation)
	}
	if len(articleIDs) == 0 {
		return 0, fmt.Errorf("%w: articleIds must not be empty", domain.ErrValidation)
	}

	count, err := r.store.MarkArticlesForEvaluation(ctx, sessionID, articleIDs)
	if err != nil {
		return 0, fmt.Errorf("mark articles: %w", err)
	}
	if err := r.store.MarkSessionEvaluationRunning(ctx, sessionID); err != nil {
		return 0, fmt.Errorf("mark session %d running: %w", sessionID, err)
	}
	return count, nil
}

// EvaluateSingle evaluates one article synchronously and stores the outcome.
func (r *Review) EvaluateSingle(ctx context.Context, in SingleEvaluation) (domain.Evaluation, error) {
	if in.ArticleID <= 0 {
		return domain.Evaluation{}, fmt.Errorf("%w: articleId is required", domain.ErrValidation)
	}
	if r.evaluator == nil {
		return domain.Evaluation{}, fmt.Errorf("%w: evaluator", domain.ErrNotConfigured)
	}

	version := r.settingsVersion
	if in.Version > 0 {
		version = in.Version
	}
	settings, err := r.store.GetAISettings(ctx, version)
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("load ai settings: %w", err)
	}
	if err := r.evaluator.Validate(settings); err != nil {
		return domain.Evaluation{}, err
	}

	article, err := r.store.GetArticle(ctx, in.ArticleID)
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("load article %d: %w", in.ArticleID, err)
	}
	title, abstract, criteria := in.Title, in.Abstract, in.Criteria
	if title == "" && abstract == "" {
		title, abstract = evaluationInput(article)
	}
	if strings.TrimSpace(criteria) == "" && in.SessionID > 0 {
		session, err := r.store.GetSession(ctx, in.SessionID)
		if err != nil {
			return domain.Evaluation{}, fmt.Errorf("load session %d: %w", in.SessionID, err)
		}
		criteria = session.CriteriaText()
	}

	eval, err := r.evaluator.Evaluate(ctx, title, abstract, criteria, settings)
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("evaluate article %d: %w", in.ArticleID, err)
	}
	if err := r.store.UpdateArticleEvaluation(ctx, in.ArticleID, settings.ID, "", eval); err != nil {
		return domain.Evaluation{}, fmt.Errorf("store evaluation of article %d: %w", in.ArticleID, err)
	}

	r.recorder.ObserveEvaluation(eval)
	return eval, nil
}

// ListSessionArticles returns every article of a session in upload order.
func (r *Review) ListSessionArticles(ctx context.Context, sessionID int64) ([]domain.Article, error) {
	if _, err := r.store.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("get session %d: %w", sessionID, err)
	}
	fileIDs, err := r.store.ListFileIDs(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list files of session %d: %w", sessionID, err)
	}
	articles, err := r.store.GetArticles(ctx, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("list articles of session %d: %w", sessionID, err)
	}
	return articles, nil
}

// GetArticle returns the article projection used by reviewers.
func (r *Review) GetArticle(ctx context.Context, id int64) (domain.Article, error) {
	article, err := r.store.GetArticle(ctx, id)
	if err != nil {
		return domain.Article{}, fmt.Errorf("get article %d: %w", id, err)
	}
	return article, nil
}

// RecordUserDecision stores a reviewer's decision for an article.
func (r *Review) RecordUserDecision(ctx context.Context, id int64, raw string) (domain.Decision, error) {
	decision, err := domain.ParseDecision(raw)
	if err != nil {
		return "", err
	}
	if err := r.store.RecordUserDecision(ctx, id, decision); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("record decision for article %d: %w", id, err)
	}
	return decision, nil
}

// evaluationInput falls back to the raw segment when no field was extracted.
func evaluationInput(a domain.Article) (title, abstract string) {
	if a.Title == "" && a.Abstract == "" {
		return "", a.FullText
	}
	return a.Title, a.Abstract
}
