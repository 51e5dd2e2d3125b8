package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"RevAI/internal/domain"
)

// CreateSession inserts a review session with its ordered criteria.
func (r *PostgresRepository) CreateSession(ctx context.Context, title string, criteria []domain.Criterion) (domain.ReviewSession, error) {
	if criteria == nil {
		criteria = []domain.Criterion{}
	}
	raw, err := json.Marshal(criteria)
	if err != nil {
		return domain.ReviewSession{}, fmt.Errorf("marshal criteria: %w", err)
	}

	query := `INSERT INTO review_sessions (title, criteria)
              VALUES ($1, $2)
              RETURNING id, created_at, updated_at`

	session := domain.ReviewSession{Title: title, Criteria: criteria}
	err = r.db.QueryRowContext(ctx, query, title, raw).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return domain.ReviewSession{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// GetSession loads one session by id.
func (r *PostgresRepository) GetSession(ctx context.Context, id int64) (domain.ReviewSession, error) {
	query := `SELECT id, title, criteria, articles_count, files_count, created_at, updated_at,
                     last_evaluated_at, ai_evaluation_running
              FROM review_sessions WHERE id = $1`

	var (
		session       domain.ReviewSession
		rawCriteria   []byte
		lastEvaluated sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.Title,
		&rawCriteria,
		&session.ArticlesCount,
		&session.FilesCount,
		&session.CreatedAt,
		&session.UpdatedAt,
		&lastEvaluated,
		&session.AIEvaluationRunning,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReviewSession{}, notFound("session", id)
	}
	if err != nil {
		return domain.ReviewSession{}, fmt.Errorf("query session: %w", err)
	}

	if len(rawCriteria) > 0 {
		if err := json.Unmarshal(rawCriteria, &session.Criteria); err != nil {
			return domain.ReviewSession{}, fmt.Errorf("decode criteria of session %d: %w", id, err)
		}
	}
	if lastEvaluated.Valid {
		t := lastEvaluated.Time
		session.LastEvaluatedAt = &t
	}
	return session, nil
}

// MarkSessionEvaluationRunning flags a session as having AI evaluation in progress.
func (r *PostgresRepository) MarkSessionEvaluationRunning(ctx context.Context, id int64) error {
	query := `UPDATE review_sessions
              SET ai_evaluation_running = TRUE, updated_at = NOW()
              WHERE id = $1`

	n, err := execAffecting(ctx, r.db, "mark session running", query, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("session", id)
	}
	return nil
}

// MarkSessionEvaluationAwaiting clears the running flag and stamps the evaluation time.
func (r *PostgresRepository) MarkSessionEvaluationAwaiting(ctx context.Context, id int64, evaluatedAt time.Time) error {
	query := `UPDATE review_sessions
              SET ai_evaluation_running = FALSE, last_evaluated_at = $2, updated_at = NOW()
              WHERE id = $1`

	n, err := execAffecting(ctx, r.db, "mark session awaiting", query, id, evaluatedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("session", id)
	}
	return nil
}

// RefreshSessionCounts recomputes the denormalized file and article counters.
func (r *PostgresRepository) RefreshSessionCounts(ctx context.Context, id int64) error {
	query := `UPDATE review_sessions AS s
              SET files_count = (SELECT COUNT(*) FROM files f WHERE f.session_id = s.id),
                  articles_count = (SELECT COUNT(*) FROM articles a
                                    JOIN files f ON f.id = a.file_id
                                    WHERE f.session_id = s.id),
                  updated_at = NOW()
              WHERE s.id = $1`

	n, err := execAffecting(ctx, r.db, "refresh session counts", query, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("session", id)
	}
	return nil
}

// CreateFile inserts a file row for a session.
func (r *PostgresRepository) CreateFile(ctx context.Context, sessionID int64, filename string, articlesCount int) (domain.File, error) {
	query := `INSERT INTO files (session_id, filename, articles_count)
              VALUES ($1, $2, $3)
              RETURNING id, created_at`

	file := domain.File{SessionID: sessionID, Filename: filename, ArticlesCount: articlesCount}
	err := r.db.QueryRowContext(ctx, query, sessionID, filename, articlesCount).Scan(&file.ID, &file.CreatedAt)
	if isForeignKeyViolation(err) {
		return domain.File{}, notFound("session", sessionID)
	}
	if err != nil {
		return domain.File{}, fmt.Errorf("insert file: %w", err)
	}
	return file, nil
}

// DeleteFile removes a file; its articles go with it through the foreign key cascade.
func (r *PostgresRepository) DeleteFile(ctx context.Context, id int64) error {
	if _, err := execAffecting(ctx, r.db, "delete file", `DELETE FROM files WHERE id = $1`, id); err != nil {
		return err
	}
	return nil
}

// RecountFile sets articles_count to the number of stored articles and returns it.
func (r *PostgresRepository) RecountFile(ctx context.Context, id int64) (int, error) {
	query := `UPDATE files
              SET articles_count = (SELECT COUNT(*) FROM articles WHERE file_id = $1)
              WHERE id = $1
              RETURNING articles_count`

	var count int
	err := r.db.QueryRowContext(ctx, query, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("file", id)
	}
	if err != nil {
		return 0, fmt.Errorf("recount file: %w", err)
	}
	return count, nil
}

// ListFileIDs returns the ids of all files of a session in upload order.
func (r *PostgresRepository) ListFileIDs(ctx context.Context, sessionID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM files WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan file id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return ids, nil
}
