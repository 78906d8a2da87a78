package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/evidentta/controlverify/internal/domain/verification"
)

const ProviderIdentity = "identity"

// IdentityConfig configures the identity/workspace admin adapter.
type IdentityConfig struct {
	BaseURL           string        `json:"base_url"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
}

// IdentityAdapter reads security posture facts from an identity provider's
// admin API: MFA enforcement, SSO requirements, inactive account hygiene.
type IdentityAdapter struct {
	config  IdentityConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewIdentityAdapter(config IdentityConfig, logger *zap.Logger) *IdentityAdapter {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 5
	}
	if config.Burst == 0 {
		config.Burst = 10
	}
	return &IdentityAdapter{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		logger:  logger,
	}
}

func (a *IdentityAdapter) Provider() string { return ProviderIdentity }

// identitySettings is the slice of the admin API response the adapter
// consumes.
type identitySettings struct {
	MFAEnforced       bool `json:"mfa_enforced"`
	SSORequired       bool `json:"sso_required"`
	TotalUsers        int  `json:"total_users"`
	UsersWithoutMFA   int  `json:"users_without_mfa"`
	InactiveAccounts  int  `json:"inactive_accounts"`
	InactiveThreshold int  `json:"inactive_threshold_days"`
}

// FetchFindings pulls workspace security settings and emits one finding
// per fact.
func (a *IdentityAdapter) FetchFindings(ctx context.Context, creds Credentials) ([]verification.Finding, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(ProviderIdentity, err)
	}

	var settings identitySettings
	if err := a.get(ctx, "/v1/security/settings", creds, &settings); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	findings := []verification.Finding{
		{
			Provider:   ProviderIdentity,
			FactType:   verification.FactMFAEnforced,
			Passed:     settings.MFAEnforced && settings.UsersWithoutMFA == 0,
			ObservedAt: now,
			Metrics: map[string]any{
				"total_users":       settings.TotalUsers,
				"users_without_mfa": settings.UsersWithoutMFA,
			},
		},
		{
			Provider:   ProviderIdentity,
			FactType:   verification.FactSSORequired,
			Passed:     settings.SSORequired,
			ObservedAt: now,
		},
		{
			Provider:   ProviderIdentity,
			FactType:   verification.FactInactiveAccounts,
			Passed:     settings.InactiveAccounts == 0,
			ObservedAt: now,
			Metrics: map[string]any{
				"inactive_accounts":       settings.InactiveAccounts,
				"inactive_threshold_days": settings.InactiveThreshold,
			},
		},
	}

	a.logger.Debug("identity findings fetched", zap.Int("count", len(findings)))
	return findings, nil
}

func (a *IdentityAdapter) get(ctx context.Context, path string, creds Credentials, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(ProviderIdentity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyHTTPError(ProviderIdentity, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return classifyTransportError(ProviderIdentity, err)
	}
	return nil
}
