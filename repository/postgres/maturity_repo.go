package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promorang/maturity/domain"
	"github.com/promorang/maturity/pkg/maturity"
	"github.com/promorang/maturity/repository"
)

type maturityRepository struct {
	pool *pgxpool.Pool
}

// NewMaturityRepository returns a Postgres-backed MaturityRepository.
func NewMaturityRepository(pool *pgxpool.Pool) repository.MaturityRepository {
	return &maturityRepository{pool: pool}
}

func (r *maturityRepository) GetState(ctx context.Context, userID string) (*domain.MaturityState, error) {
	const query = `
	SELECT user_id, level, actions_count, source, updated_at
	FROM maturity_states
	WHERE user_id = $1
	`
	return scanState(r.pool.QueryRow(ctx, query, userID))
}

func (r *maturityRepository) RecordAction(ctx context.Context, record *domain.ActionRecord, fn repository.ApplyFunc) (*domain.MaturityState, error) {
	if record == nil || record.UserID == "" {
		return nil, domain.ErrInvalidPayload
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const ensure = `
	INSERT INTO maturity_states (user_id, level, actions_count, source, updated_at)
	VALUES ($1, 0, 0, $2, NOW())
	ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, ensure, record.UserID, string(maturity.SourceServer)); err != nil {
		return nil, err
	}

	const lock = `
	SELECT user_id, level, actions_count, source, updated_at
	FROM maturity_states
	WHERE user_id = $1
	FOR UPDATE
	`
	state, err := scanState(tx.QueryRow(ctx, lock, record.UserID))
	if err != nil {
		return nil, err
	}

	const insertAction = `
	INSERT INTO maturity_actions (id, user_id, action_type, surface, metadata, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, insertAction,
		record.ID,
		record.UserID,
		string(record.Action),
		string(record.Surface),
		marshalRaw(record.Metadata),
		record.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		// already recorded by an earlier attempt
		return state, tx.Commit(ctx)
	}

	if fn != nil {
		fn(state)
	}

	const update = `
	UPDATE maturity_states
	SET level = $2, actions_count = $3, source = $4, updated_at = clock_timestamp()
	WHERE user_id = $1
	RETURNING updated_at
	`
	if err := tx.QueryRow(ctx, update,
		state.UserID,
		int(state.Level),
		state.ActionsCount,
		string(state.Source),
	).Scan(&state.UpdatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return state, nil
}

func (r *maturityRepository) SetLevel(ctx context.Context, userID string, level maturity.Level, source maturity.Source) (*domain.MaturityState, error) {
	if userID == "" || !level.Valid() {
		return nil, domain.ErrInvalidPayload
	}

	const query = `
	INSERT INTO maturity_states (user_id, level, actions_count, source, updated_at)
	VALUES ($1, $2, 0, $3, NOW())
	ON CONFLICT (user_id) DO UPDATE
	SET level = EXCLUDED.level,
		source = EXCLUDED.source,
		updated_at = clock_timestamp()
	RETURNING user_id, level, actions_count, source, updated_at
	`
	return scanState(r.pool.QueryRow(ctx, query, userID, int(level), string(source)))
}

func (r *maturityRepository) ListActions(ctx context.Context, userID string, limit int) ([]domain.ActionRecord, error) {
	const query = `
	SELECT id, user_id, action_type, surface, metadata, recorded_at
	FROM maturity_actions
	WHERE user_id = $1
	ORDER BY recorded_at DESC
	LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ActionRecord
	for rows.Next() {
		var (
			rec      domain.ActionRecord
			action   string
			surface  string
			metadata []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &action, &surface, &metadata, &rec.RecordedAt); err != nil {
			return nil, err
		}
		rec.Action = maturity.Action(action)
		rec.Surface = maturity.Surface(surface)
		if len(metadata) > 0 {
			rec.Metadata = append([]byte(nil), metadata...)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanState(row pgx.Row) (*domain.MaturityState, error) {
	var (
		state  domain.MaturityState
		level  int
		source string
	)
	if err := row.Scan(&state.UserID, &level, &state.ActionsCount, &source, &state.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStateNotFound
		}
		return nil, err
	}
	state.Level = maturity.Level(level)
	state.Source = maturity.Source(source)
	if state.Source == "" {
		state.Source = maturity.SourceServer
	}
	return &state, nil
}
