package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainerrors "github.com/evidentta/controlverify/internal/domain/errors"
	"github.com/evidentta/controlverify/internal/domain/integration"
	domainverification "github.com/evidentta/controlverify/internal/domain/verification"
	"github.com/evidentta/controlverify/internal/infrastructure/cache"
	"github.com/evidentta/controlverify/internal/metrics"
	"github.com/evidentta/controlverify/internal/service/sync/providers"
	"github.com/evidentta/controlverify/internal/service/verification"
)

// Trigger identifies what started a sync pass.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Result summarizes one sync pass. Counts reflect transitions made in
// this pass, not pre-existing state.
type Result struct {
	EvidenceGenerated   int  `json:"evidence_generated"`
	ControlsVerified    int  `json:"controls_verified"`
	ControlsFailed      int  `json:"controls_failed"`
	PersistenceFailures int  `json:"persistence_failures"`
	Skipped             bool `json:"skipped,omitempty"`
}

// IntegrationRepository is the persistence surface for integration status.
type IntegrationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*integration.Integration, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*integration.Integration, error)
	UpdateStatus(ctx context.Context, i *integration.Integration) error
}

// CredentialSource resolves an organization's credentials for a provider.
// Credential storage is an excluded collaborator.
type CredentialSource interface {
	CredentialsFor(ctx context.Context, orgID uuid.UUID, provider string) (providers.Credentials, error)
}

// ScoreInvalidator drops cached health scores after a state change.
type ScoreInvalidator interface {
	Invalidate(ctx context.Context, controlID uuid.UUID) error
}

// Config tunes the orchestrator.
type Config struct {
	MaxRetries       int
	RetryBackoffBase time.Duration
	ScheduleCooldown time.Duration
	ProviderTimeout  time.Duration
}

// Orchestrator drives one sync pass: provider fetch with retry, finding
// normalization, reconciliation per control, and integration status
// bookkeeping. Single-flight per (organization, integration) is enforced
// by an in-process flight group plus a cross-process redis lease.
type Orchestrator struct {
	integrations IntegrationRepository
	registry     *providers.Registry
	credentials  CredentialSource
	rules        verification.RuleSource
	reconciler   *verification.Reconciler
	lease        *cache.SyncLease
	scores       ScoreInvalidator
	metrics      *metrics.Registry
	logger       *zap.Logger
	config       Config

	flights *flightGroup
}

func NewOrchestrator(
	integrations IntegrationRepository,
	registry *providers.Registry,
	credentials CredentialSource,
	rules verification.RuleSource,
	reconciler *verification.Reconciler,
	lease *cache.SyncLease,
	scores ScoreInvalidator,
	m *metrics.Registry,
	logger *zap.Logger,
	config Config,
) *Orchestrator {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryBackoffBase <= 0 {
		config.RetryBackoffBase = 500 * time.Millisecond
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = 30 * time.Second
	}
	return &Orchestrator{
		integrations: integrations,
		registry:     registry,
		credentials:  credentials,
		rules:        rules,
		reconciler:   reconciler,
		lease:        lease,
		scores:       scores,
		metrics:      m,
		logger:       logger,
		config:       config,
		flights:      newFlightGroup(),
	}
}

// Sync runs one pass for an (organization, integration) pair. A caller in
// the same process joining an in-flight pass shares its result; a lease
// held by another process yields ErrSyncInFlight.
func (o *Orchestrator) Sync(ctx context.Context, orgID, integrationID uuid.UUID, trigger Trigger) (Result, error) {
	key := orgID.String() + ":" + integrationID.String()
	result, joined, err := o.flights.do(ctx, key, func() (Result, error) {
		return o.runPass(ctx, orgID, integrationID, trigger)
	})
	if joined {
		o.logger.Debug("joined in-flight sync",
			zap.String("organization_id", orgID.String()),
			zap.String("integration_id", integrationID.String()))
	}
	return result, err
}

func (o *Orchestrator) runPass(ctx context.Context, orgID, integrationID uuid.UUID, trigger Trigger) (Result, error) {
	started := time.Now()

	integ, err := o.integrations.GetByID(ctx, integrationID)
	if err != nil {
		return Result{}, err
	}
	if !integ.Schedulable() {
		return Result{}, domainerrors.ErrIntegrationBroken
	}
	if trigger == TriggerScheduled && !integ.CooledDown(started, o.config.ScheduleCooldown) {
		return Result{Skipped: true}, nil
	}

	token, err := o.lease.Acquire(ctx, orgID, integrationID)
	if err != nil {
		if err == cache.ErrLeaseHeld {
			return Result{}, domainerrors.ErrSyncInFlight
		}
		return Result{}, err
	}
	defer func() {
		if relErr := o.lease.Release(context.WithoutCancel(ctx), orgID, integrationID, token); relErr != nil {
			o.logger.Warn("sync lease release failed", zap.Error(relErr))
		}
	}()

	findings, err := o.fetchWithRetry(ctx, integ, orgID)
	now := time.Now().UTC()
	if err != nil {
		o.recordFetchFailure(ctx, integ, err, now)
		o.metrics.RecordSync(ctx, integ.Provider, string(trigger), time.Since(started), true)
		return Result{}, err
	}

	rules, err := o.rules.RulesForOrganization(ctx, orgID)
	if err != nil {
		return Result{}, err
	}

	result := o.reconcileAll(ctx, findings, rules, domainverification.ActorIntegration, integ.ID.String(), now)
	result.EvidenceGenerated = len(findings)

	integ.MarkSynced(now)
	if err := o.integrations.UpdateStatus(ctx, integ); err != nil {
		o.logger.Error("integration status update failed",
			zap.String("integration_id", integ.ID.String()), zap.Error(err))
	}

	o.metrics.RecordSync(ctx, integ.Provider, string(trigger), time.Since(started), false)
	o.logger.Info("sync pass completed",
		zap.String("organization_id", orgID.String()),
		zap.String("integration_id", integrationID.String()),
		zap.String("trigger", string(trigger)),
		zap.Int("evidence_generated", result.EvidenceGenerated),
		zap.Int("controls_verified", result.ControlsVerified),
		zap.Int("controls_failed", result.ControlsFailed),
		zap.Int("persistence_failures", result.PersistenceFailures))
	return result, nil
}

// fetchWithRetry calls the provider adapter, retrying transient failures
// with exponential backoff. Permanent failures return immediately.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, integ *integration.Integration, orgID uuid.UUID) ([]domainverification.Finding, error) {
	adapter, err := o.registry.Get(integ.Provider)
	if err != nil {
		return nil, err
	}
	creds, err := o.credentials.CredentialsFor(ctx, orgID, integ.Provider)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.config.RetryBackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, domainerrors.NewProviderTransientError(integ.Provider, "sync canceled during backoff").WithCause(ctx.Err())
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.config.ProviderTimeout)
		callStart := time.Now()
		findings, err := adapter.FetchFindings(callCtx, creds)
		cancel()
		o.metrics.ProviderCallDuration.Record(ctx, time.Since(callStart).Seconds())

		if err == nil {
			return findings, nil
		}
		o.metrics.RecordProviderError(ctx, integ.Provider, domainerrors.IsProviderTransient(err))
		if !domainerrors.IsProviderTransient(err) {
			return nil, err
		}
		lastErr = err
		o.logger.Warn("provider fetch failed, will retry",
			zap.String("provider", integ.Provider),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// recordFetchFailure persists the integration's new status: permanent
// errors stop scheduling, exhausted transient errors leave it schedulable.
// Control state is never altered on fetch failure.
func (o *Orchestrator) recordFetchFailure(ctx context.Context, integ *integration.Integration, err error, now time.Time) {
	if domainerrors.IsProviderPermanent(err) {
		integ.MarkError(err.Error(), now)
	} else {
		integ.MarkRetrying(err.Error(), now)
	}
	if updErr := o.integrations.UpdateStatus(context.WithoutCancel(ctx), integ); updErr != nil {
		o.logger.Error("integration failure status update failed",
			zap.String("integration_id", integ.ID.String()), zap.Error(updErr))
	}
}

// reconcileAll drives normalizer and reconciler for every control that
// matched at least one finding. A persistence failure for one control
// does not abort the others; it is counted separately from verification
// "failed" outcomes.
func (o *Orchestrator) reconcileAll(ctx context.Context, findings []domainverification.Finding, rules []domainverification.MatchRule, actorType domainverification.ActorType, actorID string, now time.Time) Result {
	var result Result
	grouped := domainverification.NormalizeAll(findings, rules)
	for controlID, candidates := range grouped {
		_, transition, err := o.reconciler.Apply(ctx, controlID, candidates, actorType, actorID, now)
		if err != nil {
			result.PersistenceFailures++
			o.metrics.PersistenceFailures.Add(ctx, 1)
			o.logger.Error("outcome apply failed",
				zap.String("control_id", controlID.String()), zap.Error(err))
			continue
		}
		switch transition {
		case verification.TransitionVerified:
			result.ControlsVerified++
			o.metrics.ControlsVerified.Add(ctx, 1)
		case verification.TransitionFailed:
			result.ControlsFailed++
			o.metrics.ControlsFailed.Add(ctx, 1)
		}
		if err := o.scores.Invalidate(ctx, controlID); err != nil {
			o.logger.Warn("score cache invalidation failed",
				zap.String("control_id", controlID.String()), zap.Error(err))
		}
	}
	return result
}

// SyncControl runs a targeted pass over the one control's mapped
// integrations, for the manual "verify now" path. The caller waits for
// the pass to finish.
func (o *Orchestrator) SyncControl(ctx context.Context, orgID, controlID uuid.UUID, actorID string) (Result, error) {
	rules, err := o.rules.RulesForControl(ctx, controlID)
	if err != nil {
		return Result{}, err
	}
	if len(rules) == 0 {
		return Result{}, domainerrors.ErrNoMappedIntegration
	}

	wanted := make(map[string]bool, len(rules))
	for _, r := range rules {
		wanted[r.Provider] = true
	}

	integrations, err := o.integrations.ListByOrganization(ctx, orgID)
	if err != nil {
		return Result{}, err
	}

	var total Result
	var lastErr error
	matched := false
	for _, integ := range integrations {
		if !wanted[integ.Provider] {
			continue
		}
		matched = true
		res, err := o.syncControlPass(ctx, orgID, integ, rules, actorID)
		if err != nil {
			lastErr = err
			continue
		}
		total.EvidenceGenerated += res.EvidenceGenerated
		total.ControlsVerified += res.ControlsVerified
		total.ControlsFailed += res.ControlsFailed
		total.PersistenceFailures += res.PersistenceFailures
	}
	if !matched {
		return Result{}, domainerrors.ErrNoMappedIntegration
	}
	if total.EvidenceGenerated == 0 && lastErr != nil {
		return Result{}, lastErr
	}
	return total, nil
}

func (o *Orchestrator) syncControlPass(ctx context.Context, orgID uuid.UUID, integ *integration.Integration, rules []domainverification.MatchRule, actorID string) (Result, error) {
	key := fmt.Sprintf("%s:%s", orgID, integ.ID)
	result, _, err := o.flights.do(ctx, key, func() (Result, error) {
		if !integ.Schedulable() {
			return Result{}, domainerrors.ErrIntegrationBroken
		}
		token, err := o.lease.Acquire(ctx, orgID, integ.ID)
		if err != nil {
			if err == cache.ErrLeaseHeld {
				return Result{}, domainerrors.ErrSyncInFlight
			}
			return Result{}, err
		}
		defer func() {
			if relErr := o.lease.Release(context.WithoutCancel(ctx), orgID, integ.ID, token); relErr != nil {
				o.logger.Warn("sync lease release failed", zap.Error(relErr))
			}
		}()

		findings, err := o.fetchWithRetry(ctx, integ, orgID)
		now := time.Now().UTC()
		if err != nil {
			o.recordFetchFailure(ctx, integ, err, now)
			return Result{}, err
		}

		res := o.reconcileAll(ctx, findings, rules, domainverification.ActorUser, actorID, now)
		res.EvidenceGenerated = len(findings)

		integ.MarkSynced(now)
		if err := o.integrations.UpdateStatus(ctx, integ); err != nil {
			o.logger.Error("integration status update failed",
				zap.String("integration_id", integ.ID.String()), zap.Error(err))
		}
		return res, nil
	})
	return result, err
}
