package health

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evidentta/controlverify/internal/domain/control"
	domainerrors "github.com/evidentta/controlverify/internal/domain/errors"
	"github.com/evidentta/controlverify/internal/domain/health"
	domainverification "github.com/evidentta/controlverify/internal/domain/verification"
	"github.com/evidentta/controlverify/internal/infrastructure/cache"
	"github.com/evidentta/controlverify/internal/infrastructure/repository"
	"github.com/evidentta/controlverify/internal/metrics"
	syncsvc "github.com/evidentta/controlverify/internal/service/sync"
	"github.com/evidentta/controlverify/internal/service/verification"
)

// EvidenceSource exposes the evidence inventory of a control. Evidence
// lifecycle is an excluded collaborator; only counts, sources and
// timestamps are consumed here.
type EvidenceSource interface {
	EvidenceForControl(ctx context.Context, controlID uuid.UUID) ([]health.EvidenceItem, error)
}

// MappingSource exposes a control's framework requirement mappings.
type MappingSource interface {
	MappingsForControl(ctx context.Context, controlID uuid.UUID) ([]health.FrameworkMapping, error)
}

// ControlReader is the read surface the health service needs.
type ControlReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*control.Control, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*control.Control, error)
}

// Service computes health scores, applies lazy staleness downgrades on
// read, and runs the manual verification path.
type Service struct {
	controls     ControlReader
	history      verification.HistoryLedger
	evidence     EvidenceSource
	mappings     MappingSource
	reconciler   *verification.Reconciler
	orchestrator *syncsvc.Orchestrator
	scoreCache   *cache.ScoreCache
	audit        verification.AuditSink
	metrics      *metrics.Registry
	logger       *zap.Logger
	policy       health.ScorePolicy
}

func NewService(
	controls ControlReader,
	history verification.HistoryLedger,
	evidence EvidenceSource,
	mappings MappingSource,
	reconciler *verification.Reconciler,
	orchestrator *syncsvc.Orchestrator,
	scoreCache *cache.ScoreCache,
	audit verification.AuditSink,
	m *metrics.Registry,
	logger *zap.Logger,
	policy health.ScorePolicy,
) *Service {
	if policy.ValidityWindow <= 0 {
		policy = health.DefaultScorePolicy()
	}
	return &Service{
		controls:     controls,
		history:      history,
		evidence:     evidence,
		mappings:     mappings,
		reconciler:   reconciler,
		orchestrator: orchestrator,
		scoreCache:   scoreCache,
		audit:        audit,
		metrics:      m,
		logger:       logger,
		policy:       policy,
	}
}

// GetHealth returns the composite health score for a control, serving a
// cached result when fresh. A verified control whose evidence has aged
// out is downgraded to stale before scoring.
func (s *Service) GetHealth(ctx context.Context, controlID uuid.UUID) (*health.Result, error) {
	if cached, err := s.scoreCache.Get(ctx, controlID); err == nil && cached != nil {
		s.metrics.ScoreCacheHits.Add(ctx, 1)
		return cached, nil
	}
	s.metrics.ScoreCacheMisses.Add(ctx, 1)

	result, err := s.computeFresh(ctx, controlID)
	if err != nil {
		return nil, err
	}
	if err := s.scoreCache.Set(ctx, controlID, *result); err != nil {
		s.logger.Warn("score cache write failed",
			zap.String("control_id", controlID.String()), zap.Error(err))
	}
	return result, nil
}

func (s *Service) computeFresh(ctx context.Context, controlID uuid.UUID) (*health.Result, error) {
	started := time.Now()

	c, err := s.controls.GetByID(ctx, controlID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domainerrors.ErrControlNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	if health.IsStale(c, now, s.policy.ValidityWindow) {
		if err := s.reconciler.MarkStale(ctx, c, now); err != nil {
			s.logger.Error("staleness downgrade failed",
				zap.String("control_id", c.ID.String()), zap.Error(err))
		} else {
			s.metrics.ControlsStale.Add(ctx, 1)
		}
	}

	// Missing evidence or mappings degrade the score, never fail the read.
	evidence, err := s.evidence.EvidenceForControl(ctx, controlID)
	if err != nil {
		s.logger.Warn("evidence lookup failed, scoring without evidence",
			zap.String("control_id", controlID.String()), zap.Error(err))
		evidence = nil
	}
	mappings, err := s.mappings.MappingsForControl(ctx, controlID)
	if err != nil {
		s.logger.Warn("mapping lookup failed, scoring without mappings",
			zap.String("control_id", controlID.String()), zap.Error(err))
		mappings = nil
	}

	result := health.Score(c, evidence, mappings, now, s.policy)
	s.metrics.ScoreComputeDuration.Record(ctx, time.Since(started).Seconds())
	return &result, nil
}

// GetVerificationHistory returns up to limit ledger entries, most recent
// first.
func (s *Service) GetVerificationHistory(ctx context.Context, controlID uuid.UUID, limit int) ([]domainverification.HistoryEntry, error) {
	return s.history.List(ctx, controlID, limit)
}

// GetVerificationStateAt returns the ledger entry that governed the
// control's verification state at asOf.
func (s *Service) GetVerificationStateAt(ctx context.Context, controlID uuid.UUID, asOf time.Time) (domainverification.HistoryEntry, error) {
	entry, err := s.history.StateAt(ctx, controlID, asOf)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domainverification.HistoryEntry{}, domainerrors.NewNotFoundError("verification state")
		}
		return domainverification.HistoryEntry{}, err
	}
	return entry, nil
}

// TriggerManualVerification runs a targeted sync over the control's
// mapped integrations and returns the refreshed score. The caller blocks
// until the pass completes.
func (s *Service) TriggerManualVerification(ctx context.Context, controlID uuid.UUID, actorID string) (*health.Result, error) {
	c, err := s.controls.GetByID(ctx, controlID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domainerrors.ErrControlNotFound
		}
		return nil, err
	}

	if err := s.audit.Record(ctx, domainverification.AuditEvent{
		Action:    "control.manual_verification_triggered",
		ControlID: c.ID,
		ActorID:   actorID,
		At:        time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("audit sink rejected manual verification event",
			zap.String("control_id", c.ID.String()), zap.Error(err))
	}

	if _, err := s.orchestrator.SyncControl(ctx, c.OrganizationID, controlID, actorID); err != nil {
		return nil, err
	}

	if err := s.scoreCache.Invalidate(ctx, controlID); err != nil {
		s.logger.Warn("score cache invalidation failed",
			zap.String("control_id", controlID.String()), zap.Error(err))
	}
	result, err := s.computeFresh(ctx, controlID)
	if err != nil {
		return nil, err
	}
	if err := s.scoreCache.Set(ctx, controlID, *result); err != nil {
		s.logger.Warn("score cache write failed",
			zap.String("control_id", controlID.String()), zap.Error(err))
	}
	return result, nil
}
