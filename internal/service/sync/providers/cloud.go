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

const ProviderCloud = "cloud"

// CloudConfig configures the cloud account adapter.
type CloudConfig struct {
	BaseURL           string        `json:"base_url"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
}

// CloudAdapter reads account posture from a cloud provider's configuration
// API: storage encryption, audit logging, public access blocks.
type CloudAdapter struct {
	config  CloudConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewCloudAdapter(config CloudConfig, logger *zap.Logger) *CloudAdapter {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 5
	}
	if config.Burst == 0 {
		config.Burst = 10
	}
	return &CloudAdapter{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		logger:  logger,
	}
}

func (a *CloudAdapter) Provider() string { return ProviderCloud }

type cloudPosture struct {
	TotalBuckets       int  `json:"total_buckets"`
	UnencryptedBuckets int  `json:"unencrypted_buckets"`
	PublicBuckets      int  `json:"public_buckets"`
	AuditLogging       bool `json:"audit_logging_enabled"`
	PublicAccessBlock  bool `json:"public_access_block"`
}

// FetchFindings pulls the account posture summary and emits one finding
// per fact.
func (a *CloudAdapter) FetchFindings(ctx context.Context, creds Credentials) ([]verification.Finding, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(ProviderCloud, err)
	}

	var posture cloudPosture
	path := fmt.Sprintf("/v2/accounts/%s/posture", creds.AccountID)
	if err := a.get(ctx, path, creds, &posture); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	findings := []verification.Finding{
		{
			Provider:   ProviderCloud,
			FactType:   verification.FactStorageEncryption,
			Passed:     posture.UnencryptedBuckets == 0,
			ObservedAt: now,
			Metrics: map[string]any{
				"total_buckets":       posture.TotalBuckets,
				"unencrypted_buckets": posture.UnencryptedBuckets,
			},
		},
		{
			Provider:   ProviderCloud,
			FactType:   verification.FactAuditLogging,
			Passed:     posture.AuditLogging,
			ObservedAt: now,
		},
		{
			Provider:   ProviderCloud,
			FactType:   verification.FactPublicAccessBlocked,
			Passed:     posture.PublicAccessBlock && posture.PublicBuckets == 0,
			ObservedAt: now,
			Metrics: map[string]any{
				"public_buckets": posture.PublicBuckets,
			},
		},
	}

	a.logger.Debug("cloud findings fetched", zap.Int("count", len(findings)))
	return findings, nil
}

func (a *CloudAdapter) get(ctx context.Context, path string, creds Credentials, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building cloud request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(ProviderCloud, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyHTTPError(ProviderCloud, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return classifyTransportError(ProviderCloud, err)
	}
	return nil
}
