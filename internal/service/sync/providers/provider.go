package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	domainerrors "github.com/evidentta/controlverify/internal/domain/errors"
	"github.com/evidentta/controlverify/internal/domain/verification"
)

// Credentials is the per-organization secret material an adapter needs
// to talk to its external system. Resolution happens upstream; adapters
// only consume it.
type Credentials struct {
	APIToken  string
	AccountID string
}

// Adapter talks to one external system of record and translates its
// native responses into normalized findings. Adapters are strictly
// read-only and know nothing about controls or scoring.
type Adapter interface {
	Provider() string
	FetchFindings(ctx context.Context, creds Credentials) ([]verification.Finding, error)
}

// Registry resolves adapters by provider name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(provider string) (Adapter, error) {
	a, ok := r.adapters[provider]
	if !ok {
		return nil, domainerrors.NewValidationError("UNKNOWN_PROVIDER",
			fmt.Sprintf("no adapter registered for provider %q", provider))
	}
	return a, nil
}

// classifyHTTPError maps an HTTP response status to the provider error
// taxonomy: auth failures are permanent, rate limits and server errors
// transient.
func classifyHTTPError(provider string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domainerrors.NewProviderPermanentError(provider,
			fmt.Sprintf("credentials rejected (status %d)", status))
	case status == http.StatusGone || status == http.StatusNotImplemented:
		return domainerrors.NewProviderPermanentError(provider,
			fmt.Sprintf("unsupported API version (status %d)", status))
	case status == http.StatusTooManyRequests:
		return domainerrors.NewRateLimitError(
			fmt.Sprintf("%s: rate limited (status %d)", provider, status))
	default:
		return domainerrors.NewProviderTransientError(provider,
			fmt.Sprintf("unexpected status %d", status))
	}
}

// classifyTransportError maps transport failures. A timeout or canceled
// context is transient: it means "no new evidence this pass", never a
// failing finding.
func classifyTransportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domainerrors.NewProviderTransientError(provider, "request timed out").WithCause(err)
	}
	return domainerrors.NewProviderTransientError(provider, "request failed").WithCause(err)
}
