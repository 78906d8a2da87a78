package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentta/controlverify/internal/domain/verification"
)

// RuleRepository reads the control-matching rule catalog. The catalog is
// owned by the compliance configuration service; this side only reads.
type RuleRepository struct {
	db *pgxpool.Pool
}

func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `control_id, provider, fact_type, confidence, pass_reason, fail_reason`

func (r *RuleRepository) RulesForOrganization(ctx context.Context, orgID uuid.UUID) ([]verification.MatchRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM match_rules WHERE organization_id = $1
		ORDER BY control_id, provider, fact_type`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying match rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func (r *RuleRepository) RulesForControl(ctx context.Context, controlID uuid.UUID) ([]verification.MatchRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM match_rules WHERE control_id = $1
		ORDER BY provider, fact_type`, controlID)
	if err != nil {
		return nil, fmt.Errorf("querying match rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func scanRules(rows pgx.Rows) ([]verification.MatchRule, error) {
	var out []verification.MatchRule
	for rows.Next() {
		var rule verification.MatchRule
		if err := rows.Scan(
			&rule.ControlID, &rule.Provider, &rule.FactType,
			&rule.Confidence, &rule.PassReason, &rule.FailReason,
		); err != nil {
			return nil, fmt.Errorf("scanning match rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}
