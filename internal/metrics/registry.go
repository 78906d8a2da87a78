package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the verification engine's domain metrics.
type Registry struct {
	meter metric.Meter

	// Sync metrics
	SyncDuration       metric.Float64Histogram
	SyncCounter        metric.Int64Counter
	SyncFailureCounter metric.Int64Counter

	// Verification metrics
	ControlsVerified    metric.Int64Counter
	ControlsFailed      metric.Int64Counter
	ControlsStale       metric.Int64Counter
	PersistenceFailures metric.Int64Counter

	// Provider metrics
	ProviderCallDuration metric.Float64Histogram
	ProviderErrorCounter metric.Int64Counter

	// Scoring metrics
	ScoreComputeDuration metric.Float64Histogram
	ScoreCacheHits       metric.Int64Counter
	ScoreCacheMisses     metric.Int64Counter
}

// NewRegistry creates all instruments on the global meter provider.
func NewRegistry() (*Registry, error) {
	meter := otel.Meter("controlverify")
	r := &Registry{meter: meter}

	var err error
	if r.SyncDuration, err = meter.Float64Histogram("sync.duration",
		metric.WithDescription("Duration of one sync pass"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating sync.duration: %w", err)
	}
	if r.SyncCounter, err = meter.Int64Counter("sync.total",
		metric.WithDescription("Sync passes started")); err != nil {
		return nil, fmt.Errorf("creating sync.total: %w", err)
	}
	if r.SyncFailureCounter, err = meter.Int64Counter("sync.failures",
		metric.WithDescription("Sync passes that surfaced a provider error")); err != nil {
		return nil, fmt.Errorf("creating sync.failures: %w", err)
	}
	if r.ControlsVerified, err = meter.Int64Counter("verification.verified",
		metric.WithDescription("Controls transitioned to verified")); err != nil {
		return nil, fmt.Errorf("creating verification.verified: %w", err)
	}
	if r.ControlsFailed, err = meter.Int64Counter("verification.failed",
		metric.WithDescription("Controls transitioned to failed")); err != nil {
		return nil, fmt.Errorf("creating verification.failed: %w", err)
	}
	if r.ControlsStale, err = meter.Int64Counter("verification.stale",
		metric.WithDescription("Controls downgraded to stale")); err != nil {
		return nil, fmt.Errorf("creating verification.stale: %w", err)
	}
	if r.PersistenceFailures, err = meter.Int64Counter("verification.persistence_failures",
		metric.WithDescription("Outcome transactions rolled back")); err != nil {
		return nil, fmt.Errorf("creating verification.persistence_failures: %w", err)
	}
	if r.ProviderCallDuration, err = meter.Float64Histogram("provider.call_duration",
		metric.WithDescription("Duration of provider fetches"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating provider.call_duration: %w", err)
	}
	if r.ProviderErrorCounter, err = meter.Int64Counter("provider.errors",
		metric.WithDescription("Provider errors by class")); err != nil {
		return nil, fmt.Errorf("creating provider.errors: %w", err)
	}
	if r.ScoreComputeDuration, err = meter.Float64Histogram("scoring.compute_duration",
		metric.WithDescription("Health score computation time"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating scoring.compute_duration: %w", err)
	}
	if r.ScoreCacheHits, err = meter.Int64Counter("scoring.cache_hits",
		metric.WithDescription("Health score cache hits")); err != nil {
		return nil, fmt.Errorf("creating scoring.cache_hits: %w", err)
	}
	if r.ScoreCacheMisses, err = meter.Int64Counter("scoring.cache_misses",
		metric.WithDescription("Health score cache misses")); err != nil {
		return nil, fmt.Errorf("creating scoring.cache_misses: %w", err)
	}

	return r, nil
}

// RecordSync records one completed sync pass.
func (r *Registry) RecordSync(ctx context.Context, provider, trigger string, d time.Duration, failed bool) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("trigger", trigger),
	)
	r.SyncCounter.Add(ctx, 1, attrs)
	r.SyncDuration.Record(ctx, d.Seconds(), attrs)
	if failed {
		r.SyncFailureCounter.Add(ctx, 1, attrs)
	}
}

// RecordProviderError counts a provider failure by class.
func (r *Registry) RecordProviderError(ctx context.Context, provider string, transient bool) {
	class := "permanent"
	if transient {
		class = "transient"
	}
	r.ProviderErrorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("class", class),
	))
}
