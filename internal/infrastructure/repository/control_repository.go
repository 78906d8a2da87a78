package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentta/controlverify/internal/domain/control"
	domainerrors "github.com/evidentta/controlverify/internal/domain/errors"
	"github.com/evidentta/controlverify/internal/domain/verification"
)

// ControlRepository persists controls and their verification state.
// The automated mutation path is ApplyOutcome, which updates the control
// row and appends the history entry in one transaction.
type ControlRepository struct {
	db      *pgxpool.Pool
	history *HistoryRepository
}

// NewControlRepository creates a control repository sharing the given pool.
func NewControlRepository(db *pgxpool.Pool, history *HistoryRepository) *ControlRepository {
	return &ControlRepository{db: db, history: history}
}

const controlColumns = `
	id, organization_id, name, implementation_status,
	verification_status, verified_at, verification_source, verification_details,
	automated, automation_source,
	review_frequency_days, last_reviewed_at, next_review_at,
	created_at, updated_at, deleted_at`

// Create inserts a new control.
func (r *ControlRepository) Create(ctx context.Context, c *control.Control) error {
	if err := c.Validate(); err != nil {
		return domainerrors.NewValidationError("INVALID_CONTROL", "control validation failed").WithCause(err)
	}

	details, err := marshalDetails(c.VerificationDetails)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO controls (` + controlColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = r.db.Exec(ctx, query,
		c.ID, c.OrganizationID, c.Name, c.ImplementationStatus,
		c.VerificationStatus, c.VerifiedAt, c.VerificationSource, details,
		c.Automated, c.AutomationSource,
		c.ReviewFrequencyDays, c.LastReviewedAt, c.NextReviewAt,
		c.CreatedAt, c.UpdatedAt, c.DeletedAt,
	)
	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return domainerrors.NewConflictError("control already exists").WithCause(err)
		}
		return fmt.Errorf("inserting control: %w", err)
	}
	return nil
}

// GetByID fetches a control; soft-deleted controls are excluded.
func (r *ControlRepository) GetByID(ctx context.Context, id uuid.UUID) (*control.Control, error) {
	query := `SELECT ` + controlColumns + ` FROM controls WHERE id = $1 AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// ListByOrganization returns all live controls for an organization.
func (r *ControlRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*control.Control, error) {
	query := `SELECT ` + controlColumns + `
		FROM controls WHERE organization_id = $1 AND deleted_at IS NULL ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying controls: %w", err)
	}
	defer rows.Close()

	var out []*control.Control
	for rows.Next() {
		c, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListVerifiedBefore returns live verified controls whose last
// verification predates cutoff. Feeds the staleness sweep.
func (r *ControlRepository) ListVerifiedBefore(ctx context.Context, cutoff time.Time) ([]*control.Control, error) {
	query := `SELECT ` + controlColumns + `
		FROM controls
		WHERE verification_status = $1 AND verified_at < $2 AND deleted_at IS NULL
		ORDER BY verified_at`
	rows, err := r.db.Query(ctx, query, control.VerificationVerified, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying stale candidates: %w", err)
	}
	defer rows.Close()

	var out []*control.Control
	for rows.Next() {
		c, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ApplyOutcome atomically writes a verification state change: the
// control row update and the history entry append either both commit or
// both roll back. Serves the reconciler, the staleness sweep, and the
// manual verification reset, which also carries an implementation-status
// edit. The update is guarded by updated_at so two concurrent passes for
// the same control cannot silently clobber one another; the loser gets
// ErrOptimisticLock and re-reads.
func (r *ControlRepository) ApplyOutcome(ctx context.Context, c *control.Control, entry verification.HistoryEntry, readUpdatedAt time.Time) error {
	details, err := marshalDetails(c.VerificationDetails)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domainerrors.NewPersistenceError("beginning transaction").WithCause(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE controls SET
			implementation_status = $2,
			verification_status = $3,
			verified_at = $4,
			verification_source = $5,
			verification_details = $6,
			updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL AND updated_at = $8`,
		c.ID, c.ImplementationStatus, c.VerificationStatus, c.VerifiedAt,
		c.VerificationSource, details, c.UpdatedAt, readUpdatedAt,
	)
	if err != nil {
		return domainerrors.NewPersistenceError("updating control verification state").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOptimisticLock
	}

	if err := r.history.appendTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return domainerrors.NewPersistenceError("committing verification outcome").WithCause(err)
	}
	return nil
}

// Update persists manual-path changes (implementation status, review
// stamps, verification reset). Automated verification goes through
// ApplyOutcome instead.
func (r *ControlRepository) Update(ctx context.Context, c *control.Control) error {
	if err := c.Validate(); err != nil {
		return domainerrors.NewValidationError("INVALID_CONTROL", "control validation failed").WithCause(err)
	}
	details, err := marshalDetails(c.VerificationDetails)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE controls SET
			name = $2,
			implementation_status = $3,
			verification_status = $4,
			verified_at = $5,
			verification_source = $6,
			verification_details = $7,
			automated = $8,
			automation_source = $9,
			review_frequency_days = $10,
			last_reviewed_at = $11,
			next_review_at = $12,
			updated_at = $13
		WHERE id = $1 AND deleted_at IS NULL`,
		c.ID, c.Name, c.ImplementationStatus,
		c.VerificationStatus, c.VerifiedAt, c.VerificationSource, details,
		c.Automated, c.AutomationSource,
		c.ReviewFrequencyDays, c.LastReviewedAt, c.NextReviewAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating control: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks a control deleted. Controls are never hard-deleted;
// historical verification evidence stays attributable.
func (r *ControlRepository) SoftDelete(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE controls SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, now)
	if err != nil {
		return fmt.Errorf("soft-deleting control: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ControlRepository) scanOne(row pgx.Row) (*control.Control, error) {
	var c control.Control
	var details []byte
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.ImplementationStatus,
		&c.VerificationStatus, &c.VerifiedAt, &c.VerificationSource, &details,
		&c.Automated, &c.AutomationSource,
		&c.ReviewFrequencyDays, &c.LastReviewedAt, &c.NextReviewAt,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning control: %w", err)
	}
	if len(details) > 0 {
		var d control.VerificationDetails
		if err := json.Unmarshal(details, &d); err != nil {
			return nil, fmt.Errorf("decoding verification details: %w", err)
		}
		c.VerificationDetails = &d
	}
	return &c, nil
}

func marshalDetails(d *control.VerificationDetails) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding verification details: %w", err)
	}
	return b, nil
}
