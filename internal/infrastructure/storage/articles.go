package storage

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"

	"RevAI/internal/domain"
)

var articleColumns = []string{
	"id", "file_id", "number", "title", "abstract", "full_text",
	"ai_decision", "ai_explanation", "ai_settings_id", "user_decision",
	"needs_review", "needs_ai_evaluation", "evaluated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (domain.Article, error) {
	var (
		a            domain.Article
		aiDecision   sql.NullString
		explanation  sql.NullString
		settingsID   sql.NullInt64
		userDecision sql.NullString
		evaluatedAt  sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.FileID, &a.Number, &a.Title, &a.Abstract, &a.FullText,
		&aiDecision, &explanation, &settingsID, &userDecision,
		&a.NeedsReview, &a.NeedsAIEvaluation, &evaluatedAt,
	)
	if err != nil {
		return domain.Article{}, err
	}

	if aiDecision.Valid {
		d := domain.Decision(aiDecision.String)
		a.AIDecision = &d
	}
	if explanation.Valid {
		s := explanation.String
		a.AIExplanation = &s
	}
	if settingsID.Valid {
		id := settingsID.Int64
		a.AISettingsID = &id
	}
	if userDecision.Valid {
		d := domain.Decision(userDecision.String)
		a.UserDecision = &d
	}
	if evaluatedAt.Valid {
		t := evaluatedAt.Time
		a.EvaluatedAt = &t
	}
	return a, nil
}

// InsertArticles stores records in chunks of chunkSize rows. It stops at the
// first failing chunk and reports the rows stored before it.
func (r *PostgresRepository) InsertArticles(ctx context.Context, fileID int64, records []domain.ArticleRecord) (int, error) {
	inserted := 0
	for chunk := range slices.Chunk(records, r.chunkSize) {
		insert := r.sb.Insert("articles").
			Columns("file_id", "number", "title", "abstract", "full_text", "needs_review", "needs_ai_evaluation")
		for _, rec := range chunk {
			insert = insert.Values(fileID, rec.Number, rec.Title, rec.Abstract, rec.FullText, true, true)
		}

		query, args, err := insert.ToSql()
		if err != nil {
			return inserted, fmt.Errorf("build article insert: %w", err)
		}
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			if isForeignKeyViolation(err) {
				return inserted, notFound("file", fileID)
			}
			return inserted, fmt.Errorf("insert articles: %w", err)
		}
		inserted += len(chunk)
	}
	return inserted, nil
}

// GetArticles returns all articles of the given files ordered by file and marker number.
func (r *PostgresRepository) GetArticles(ctx context.Context, fileIDs []int64) ([]domain.Article, error) {
	if len(fileIDs) == 0 {
		return []domain.Article{}, nil
	}

	query, args, err := r.sb.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"file_id": fileIDs}).
		OrderBy("file_id", "number", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	articles := make([]domain.Article, 0)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return articles, nil
}

// GetArticle loads a single article.
func (r *PostgresRepository) GetArticle(ctx context.Context, id int64) (domain.Article, error) {
	query, args, err := r.sb.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("build article select: %w", err)
	}

	a, err := scanArticle(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, notFound("article", id)
	}
	if err != nil {
		return domain.Article{}, fmt.Errorf("query article: %w", err)
	}
	return a, nil
}

// MarkArticlesForEvaluation queues the given articles of a session for AI
// evaluation and drops any lease they hold. Ids outside the session are ignored.
func (r *PostgresRepository) MarkArticlesForEvaluation(ctx context.Context, sessionID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := r.sb.Update("articles").
		Set("needs_ai_evaluation", true).
		Set("lease_owner", nil).
		Set("lease_expires_at", nil).
		Where(sq.Eq{"id": ids}).
		Where("file_id IN (SELECT id FROM files WHERE session_id = ?)", sessionID).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build mark update: %w", err)
	}

	n, err := execAffecting(ctx, r.db, "mark articles for evaluation", query, args...)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ClaimPendingArticles leases up to limit unleased (or lease-expired) articles
// awaiting evaluation. Concurrent claimers skip each other's locked rows.
func (r *PostgresRepository) ClaimPendingArticles(ctx context.Context, limit int, lease time.Duration, owner string) ([]domain.PendingArticle, error) {
	if limit <= 0 {
		return []domain.PendingArticle{}, nil
	}

	query := `UPDATE articles AS a
              SET lease_owner = $1, lease_expires_at = NOW() + make_interval(secs => $2)
              FROM files AS f
              WHERE f.id = a.file_id
                AND a.id IN (
                    SELECT id FROM articles
                    WHERE needs_ai_evaluation
                      AND (lease_expires_at IS NULL OR lease_expires_at < NOW())
                    ORDER BY id
                    LIMIT $3
                    FOR UPDATE SKIP LOCKED)
              RETURNING a.id, a.file_id, f.session_id, a.number, a.title, a.abstract, a.full_text`

	rows, err := r.db.QueryContext(ctx, query, owner, lease.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending articles: %w", err)
	}
	defer rows.Close()

	claimed := make([]domain.PendingArticle, 0, limit)
	for rows.Next() {
		var p domain.PendingArticle
		if err := rows.Scan(&p.ID, &p.FileID, &p.SessionID, &p.Number, &p.Title, &p.Abstract, &p.FullText); err != nil {
			return nil, fmt.Errorf("scan claimed article: %w", err)
		}
		p.NeedsAIEvaluation = true
		claimed = append(claimed, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	slices.SortFunc(claimed, func(a, b domain.PendingArticle) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return claimed, nil
}

// UpdateArticleEvaluation writes the AI outcome, clears the queue flag and releases the lease.
// With an owner the write only applies while that owner holds the lease, so a re-mark or a
// reclaim by another run is never overwritten by a stale result.
func (r *PostgresRepository) UpdateArticleEvaluation(ctx context.Context, id int64, settingsID int64, owner string, eval domain.Evaluation) error {
	query := `UPDATE articles
              SET ai_decision = $1, ai_explanation = $2, ai_settings_id = $3,
                  needs_ai_evaluation = FALSE, lease_owner = NULL, lease_expires_at = NULL,
                  evaluated_at = NOW()
              WHERE id = $4`
	settings := sql.NullInt64{Int64: settingsID, Valid: settingsID > 0}
	args := []any{string(eval.Decision), eval.Explanation, settings, id}
	if owner != "" {
		query += ` AND lease_owner = $5`
		args = append(args, owner)
	}

	n, err := execAffecting(ctx, r.db, "update article evaluation", query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		if owner != "" {
			return fmt.Errorf("article %d owner %s: %w", id, owner, domain.ErrLeaseLost)
		}
		return notFound("article", id)
	}
	return nil
}

// RecordUserDecision stores a reviewer's decision; the article no longer needs review.
func (r *PostgresRepository) RecordUserDecision(ctx context.Context, id int64, decision domain.Decision) error {
	query := `UPDATE articles SET user_decision = $1, needs_review = FALSE WHERE id = $2`

	n, err := execAffecting(ctx, r.db, "record user decision", query, string(decision), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("article", id)
	}
	return nil
}

// CountPendingArticles counts articles of a session still awaiting AI evaluation.
func (r *PostgresRepository) CountPendingArticles(ctx context.Context, sessionID int64) (int, error) {
	query := `SELECT COUNT(*) FROM articles a
              JOIN files f ON f.id = a.file_id
              WHERE f.session_id = $1 AND a.needs_ai_evaluation`

	var count int
	if err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending articles: %w", err)
	}
	return count, nil
}
