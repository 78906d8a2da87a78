package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentta/controlverify/internal/domain/health"
	"github.com/evidentta/controlverify/internal/service/sync/providers"
)

// EvidenceRepository reads the evidence inventory owned by the evidence
// lifecycle service. Only counts, sources and timestamps feed scoring.
type EvidenceRepository struct {
	db *pgxpool.Pool
}

func NewEvidenceRepository(db *pgxpool.Pool) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

func (r *EvidenceRepository) EvidenceForControl(ctx context.Context, controlID uuid.UUID) ([]health.EvidenceItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT source, collected_at
		FROM evidence_items WHERE control_id = $1 AND deleted_at IS NULL
		ORDER BY collected_at DESC`, controlID)
	if err != nil {
		return nil, fmt.Errorf("querying evidence: %w", err)
	}
	defer rows.Close()

	var out []health.EvidenceItem
	for rows.Next() {
		var item health.EvidenceItem
		if err := rows.Scan(&item.Source, &item.CollectedAt); err != nil {
			return nil, fmt.Errorf("scanning evidence item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MappingRepository reads framework requirement mappings owned by the
// framework service.
type MappingRepository struct {
	db *pgxpool.Pool
}

func NewMappingRepository(db *pgxpool.Pool) *MappingRepository {
	return &MappingRepository{db: db}
}

func (r *MappingRepository) MappingsForControl(ctx context.Context, controlID uuid.UUID) ([]health.FrameworkMapping, error) {
	rows, err := r.db.Query(ctx, `
		SELECT requirement_id, coverage
		FROM framework_mappings WHERE control_id = $1
		ORDER BY requirement_id`, controlID)
	if err != nil {
		return nil, fmt.Errorf("querying mappings: %w", err)
	}
	defer rows.Close()

	var out []health.FrameworkMapping
	for rows.Next() {
		var m health.FrameworkMapping
		if err := rows.Scan(&m.RequirementID, &m.Coverage); err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CredentialRepository resolves provider credentials for an organization.
// Tokens live in a separate table so integration status updates never
// touch secret material.
type CredentialRepository struct {
	db *pgxpool.Pool
}

func NewCredentialRepository(db *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) CredentialsFor(ctx context.Context, orgID uuid.UUID, provider string) (providers.Credentials, error) {
	var creds providers.Credentials
	err := r.db.QueryRow(ctx, `
		SELECT api_token, account_id
		FROM integration_credentials
		WHERE organization_id = $1 AND provider = $2`, orgID, provider,
	).Scan(&creds.APIToken, &creds.AccountID)
	if err != nil {
		if IsNotFound(err) {
			return providers.Credentials{}, ErrNotFound
		}
		return providers.Credentials{}, fmt.Errorf("querying credentials: %w", err)
	}
	return creds, nil
}
