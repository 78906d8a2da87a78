package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/evidentta/controlverify/internal/domain/errors"
	"github.com/evidentta/controlverify/internal/domain/verification"
)

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		code      string
	}{
		{http.StatusUnauthorized, false, "PROVIDER_PERMANENT"},
		{http.StatusForbidden, false, "PROVIDER_PERMANENT"},
		{http.StatusGone, false, "PROVIDER_PERMANENT"},
		{http.StatusNotImplemented, false, "PROVIDER_PERMANENT"},
		{http.StatusTooManyRequests, true, "RATE_LIMIT_EXCEEDED"},
		{http.StatusInternalServerError, true, "PROVIDER_TRANSIENT"},
		{http.StatusBadGateway, true, "PROVIDER_TRANSIENT"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			err := classifyHTTPError("identity", tt.status)
			require.Error(t, err)
			assert.Equal(t, tt.transient, domainerrors.IsProviderTransient(err))
			assert.Equal(t, !tt.transient, domainerrors.IsProviderPermanent(err))

			var appErr *domainerrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestClassifyTransportError(t *testing.T) {
	t.Run("deadline exceeded is transient", func(t *testing.T) {
		err := classifyTransportError("cloud", context.DeadlineExceeded)
		assert.True(t, domainerrors.IsProviderTransient(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("connection failure is transient", func(t *testing.T) {
		err := classifyTransportError("cloud", errors.New("connection refused"))
		assert.True(t, domainerrors.IsProviderTransient(err))
	})
}

type staticAdapter struct{ name string }

func (a staticAdapter) Provider() string { return a.name }
func (a staticAdapter) FetchFindings(context.Context, Credentials) ([]verification.Finding, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(staticAdapter{"identity"}, staticAdapter{"cloud"})

	a, err := r.Get("identity")
	require.NoError(t, err)
	assert.Equal(t, "identity", a.Provider())

	_, err = r.Get("ticketing")
	require.Error(t, err)
	var appErr *domainerrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "UNKNOWN_PROVIDER", appErr.Code)
}
