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

const ProviderSourceCode = "sourcecode"

// SourceCodeConfig configures the source-code host adapter.
type SourceCodeConfig struct {
	BaseURL           string        `json:"base_url"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
}

// SourceCodeAdapter reads repository protection settings from a
// source-code host: branch protection, required reviews, secret scanning.
type SourceCodeAdapter struct {
	config  SourceCodeConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewSourceCodeAdapter(config SourceCodeConfig, logger *zap.Logger) *SourceCodeAdapter {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 5
	}
	if config.Burst == 0 {
		config.Burst = 10
	}
	return &SourceCodeAdapter{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		logger:  logger,
	}
}

func (a *SourceCodeAdapter) Provider() string { return ProviderSourceCode }

type repoProtection struct {
	TotalRepos           int `json:"total_repos"`
	UnprotectedDefaults  int `json:"unprotected_default_branches"`
	ReposWithoutReview   int `json:"repos_without_required_review"`
	ReposWithoutScanning int `json:"repos_without_secret_scanning"`
}

// FetchFindings pulls the organization's repository protection summary
// and emits one finding per fact.
func (a *SourceCodeAdapter) FetchFindings(ctx context.Context, creds Credentials) ([]verification.Finding, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(ProviderSourceCode, err)
	}

	var prot repoProtection
	path := fmt.Sprintf("/v3/orgs/%s/protection-summary", creds.AccountID)
	if err := a.get(ctx, path, creds, &prot); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	findings := []verification.Finding{
		{
			Provider:   ProviderSourceCode,
			FactType:   verification.FactBranchProtection,
			Passed:     prot.UnprotectedDefaults == 0,
			ObservedAt: now,
			Metrics: map[string]any{
				"total_repos":                  prot.TotalRepos,
				"unprotected_default_branches": prot.UnprotectedDefaults,
			},
		},
		{
			Provider:   ProviderSourceCode,
			FactType:   verification.FactReviewRequired,
			Passed:     prot.ReposWithoutReview == 0,
			ObservedAt: now,
			Metrics: map[string]any{
				"repos_without_required_review": prot.ReposWithoutReview,
			},
		},
		{
			Provider:   ProviderSourceCode,
			FactType:   verification.FactSecretScanning,
			Passed:     prot.ReposWithoutScanning == 0,
			ObservedAt: now,
			Metrics: map[string]any{
				"repos_without_secret_scanning": prot.ReposWithoutScanning,
			},
		},
	}

	a.logger.Debug("sourcecode findings fetched", zap.Int("count", len(findings)))
	return findings, nil
}

func (a *SourceCodeAdapter) get(ctx context.Context, path string, creds Credentials, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building sourcecode request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(ProviderSourceCode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyHTTPError(ProviderSourceCode, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return classifyTransportError(ProviderSourceCode, err)
	}
	return nil
}
