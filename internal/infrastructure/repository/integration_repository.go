package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentta/controlverify/internal/domain/integration"
)

// IntegrationRepository persists integration records and their
// operational status.
type IntegrationRepository struct {
	db *pgxpool.Pool
}

func NewIntegrationRepository(db *pgxpool.Pool) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

const integrationColumns = `
	id, organization_id, provider, status, last_error, last_synced_at,
	created_at, updated_at`

func (r *IntegrationRepository) Create(ctx context.Context, i *integration.Integration) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO integrations (`+integrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		i.ID, i.OrganizationID, i.Provider, i.Status, i.LastError, i.LastSyncedAt,
		i.CreatedAt, i.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting integration: %w", err)
	}
	return nil
}

func (r *IntegrationRepository) GetByID(ctx context.Context, id uuid.UUID) (*integration.Integration, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE id = $1`, id)
	return scanIntegration(row)
}

func (r *IntegrationRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*integration.Integration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE organization_id = $1 ORDER BY created_at`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("querying integrations: %w", err)
	}
	defer rows.Close()

	var out []*integration.Integration
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// UpdateStatus persists the status fields mutated by the orchestrator.
func (r *IntegrationRepository) UpdateStatus(ctx context.Context, i *integration.Integration) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE integrations SET
			status = $2, last_error = $3, last_synced_at = $4, updated_at = $5
		WHERE id = $1`,
		i.ID, i.Status, i.LastError, i.LastSyncedAt, i.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating integration status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanIntegration(row pgx.Row) (*integration.Integration, error) {
	var i integration.Integration
	err := row.Scan(
		&i.ID, &i.OrganizationID, &i.Provider, &i.Status, &i.LastError, &i.LastSyncedAt,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning integration: %w", err)
	}
	return &i, nil
}
