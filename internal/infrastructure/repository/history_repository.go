package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	domainerrors "github.com/evidentta/controlverify/internal/domain/errors"
	"github.com/evidentta/controlverify/internal/domain/verification"
)

// HistoryRepository is the append-only verification history ledger.
// There is no update or delete: entries are immutable audit evidence,
// and retrieval is always bounded.
type HistoryRepository struct {
	db *pgxpool.Pool
}

// NewHistoryRepository creates a history ledger over the given pool.
func NewHistoryRepository(db *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{db: db}
}

const historyColumns = `
	id, control_id, result, confidence, reason, metrics, contributors,
	provider, actor_type, actor_id, created_at`

// appendTx inserts an entry inside the caller's transaction so the
// control update and the ledger append commit together.
func (r *HistoryRepository) appendTx(ctx context.Context, tx pgx.Tx, e verification.HistoryEntry) error {
	metrics, contributors, err := encodeMetrics(e.Metrics)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO verification_history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.ControlID, e.Result, e.Confidence, e.Reason, metrics,
		pq.Array(contributors), e.Provider, e.ActorType, e.ActorID, e.CreatedAt,
	)
	if err != nil {
		return domainerrors.NewPersistenceError("appending history entry").WithCause(err)
	}
	return nil
}

// Append inserts an entry in its own transaction, for paths that change
// no control row (e.g. a recorded manual review).
func (r *HistoryRepository) Append(ctx context.Context, e verification.HistoryEntry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domainerrors.NewPersistenceError("beginning transaction").WithCause(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.appendTx(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domainerrors.NewPersistenceError("committing history entry").WithCause(err)
	}
	return nil
}

// List returns up to limit entries for a control, most recent first.
func (r *HistoryRepository) List(ctx context.Context, controlID uuid.UUID, limit int) ([]verification.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+historyColumns+`
		FROM verification_history
		WHERE control_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		controlID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []verification.HistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StateAt returns the most recent entry at or before asOf, reconstructing
// the control's verification state as of that instant. Returns ErrNotFound
// when the control had no recorded state yet.
func (r *HistoryRepository) StateAt(ctx context.Context, controlID uuid.UUID, asOf time.Time) (verification.HistoryEntry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+historyColumns+`
		FROM verification_history
		WHERE control_id = $1 AND created_at <= $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		controlID, asOf)
	e, err := scanEntry(row)
	if err != nil {
		if IsNotFound(err) {
			return verification.HistoryEntry{}, ErrNotFound
		}
		return verification.HistoryEntry{}, err
	}
	return e, nil
}

func scanEntry(row pgx.Row) (verification.HistoryEntry, error) {
	var e verification.HistoryEntry
	var metrics []byte
	var contributors []string
	err := row.Scan(
		&e.ID, &e.ControlID, &e.Result, &e.Confidence, &e.Reason, &metrics,
		pq.Array(&contributors), &e.Provider, &e.ActorType, &e.ActorID, &e.CreatedAt,
	)
	if err != nil {
		if IsNotFound(err) {
			return e, ErrNotFound
		}
		return e, fmt.Errorf("scanning history entry: %w", err)
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &e.Metrics); err != nil {
			return e, fmt.Errorf("decoding history metrics: %w", err)
		}
	}
	if len(contributors) > 0 {
		if e.Metrics == nil {
			e.Metrics = make(map[string]any, 1)
		}
		e.Metrics[verification.MetricContributors] = contributors
	}
	return e, nil
}

// encodeMetrics splits the contributor list out of the metrics map into
// its own column and encodes the rest as JSON.
func encodeMetrics(m map[string]any) ([]byte, []string, error) {
	var contributors []string
	rest := make(map[string]any, len(m))
	for k, v := range m {
		if k == verification.MetricContributors {
			switch vv := v.(type) {
			case []string:
				contributors = vv
			case []any:
				for _, s := range vv {
					if str, ok := s.(string); ok {
						contributors = append(contributors, str)
					}
				}
			}
			continue
		}
		rest[k] = v
	}
	if len(rest) == 0 {
		return nil, contributors, nil
	}
	b, err := json.Marshal(rest)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding history metrics: %w", err)
	}
	return b, contributors, nil
}
