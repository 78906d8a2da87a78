package providers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainerrors "github.com/evidentta/controlverify/internal/domain/errors"
	"github.com/evidentta/controlverify/internal/domain/verification"
	"github.com/evidentta/controlverify/internal/service/sync/providers"
)

func TestIdentityAdapter_FetchFindings(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/v1/security/settings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"mfa_enforced": true,
			"sso_required": false,
			"total_users": 120,
			"users_without_mfa": 0,
			"inactive_accounts": 3,
			"inactive_threshold_days": 90
		}`))
	}))
	defer srv.Close()

	adapter := providers.NewIdentityAdapter(providers.IdentityConfig{BaseURL: srv.URL}, zap.NewNop())
	findings, err := adapter.FetchFindings(context.Background(), providers.Credentials{APIToken: "secret"})

	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
	require.Len(t, findings, 3)

	byFact := make(map[string]verification.Finding, len(findings))
	for _, f := range findings {
		assert.Equal(t, providers.ProviderIdentity, f.Provider)
		assert.NotZero(t, f.ObservedAt)
		byFact[f.FactType] = f
	}

	assert.True(t, byFact[verification.FactMFAEnforced].Passed)
	assert.Equal(t, 120, byFact[verification.FactMFAEnforced].Metrics["total_users"])
	assert.False(t, byFact[verification.FactSSORequired].Passed)
	assert.False(t, byFact[verification.FactInactiveAccounts].Passed)
	assert.Equal(t, 3, byFact[verification.FactInactiveAccounts].Metrics["inactive_accounts"])
}

func TestIdentityAdapter_MFAHoldoutsFailTheFact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"mfa_enforced": true, "users_without_mfa": 4, "total_users": 50}`))
	}))
	defer srv.Close()

	adapter := providers.NewIdentityAdapter(providers.IdentityConfig{BaseURL: srv.URL}, zap.NewNop())
	findings, err := adapter.FetchFindings(context.Background(), providers.Credentials{})
	require.NoError(t, err)

	for _, f := range findings {
		if f.FactType == verification.FactMFAEnforced {
			assert.False(t, f.Passed)
		}
	}
}

func TestIdentityAdapter_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"revoked credentials are permanent", http.StatusUnauthorized, false},
		{"rate limiting is transient", http.StatusTooManyRequests, true},
		{"server errors are transient", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			adapter := providers.NewIdentityAdapter(providers.IdentityConfig{BaseURL: srv.URL}, zap.NewNop())
			_, err := adapter.FetchFindings(context.Background(), providers.Credentials{})
			require.Error(t, err)
			assert.Equal(t, tt.transient, domainerrors.IsProviderTransient(err))
		})
	}
}
