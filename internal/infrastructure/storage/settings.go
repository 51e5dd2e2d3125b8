package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-playground/validator/v10"

	"RevAI/internal/domain"
)

var settingsValidator = validator.New()

// GetAISettings loads the settings row with the given id, or the newest row
// when version is 0. An empty table means the evaluator is not configured.
func (r *PostgresRepository) GetAISettings(ctx context.Context, version int64) (domain.AISettings, error) {
	builder := r.sb.Select("id", "instructions", "temperature", "max_tokens", "seed", "model", "batch_size", "created_at").
		From("ai_settings")
	if version > 0 {
		builder = builder.Where(sq.Eq{"id": version})
	} else {
		builder = builder.OrderBy("created_at DESC", "id DESC").Limit(1)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return domain.AISettings{}, fmt.Errorf("build settings select: %w", err)
	}

	var (
		s    domain.AISettings
		seed sql.NullInt64
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&s.ID, &s.Instructions, &s.Temperature, &s.MaxTokens, &seed, &s.Model, &s.BatchSize, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		if version > 0 {
			return domain.AISettings{}, notFound("ai settings", version)
		}
		return domain.AISettings{}, fmt.Errorf("%w: no ai settings stored", domain.ErrNotConfigured)
	}
	if err != nil {
		return domain.AISettings{}, fmt.Errorf("query ai settings: %w", err)
	}
	if seed.Valid {
		v := seed.Int64
		s.Seed = &v
	}

	if err := settingsValidator.Struct(s); err != nil {
		return domain.AISettings{}, fmt.Errorf("%w: ai settings %d: %v", domain.ErrNotConfigured, s.ID, err)
	}
	return s, nil
}
