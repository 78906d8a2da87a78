package health

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evidentta/controlverify/internal/domain/control"
	"github.com/evidentta/controlverify/internal/metrics"
	"github.com/evidentta/controlverify/internal/service/verification"
)

// StaleCandidateSource lists verified controls whose last verification
// predates the cutoff.
type StaleCandidateSource interface {
	ListVerifiedBefore(ctx context.Context, cutoff time.Time) ([]*control.Control, error)
}

// Sweeper periodically downgrades verified controls whose evidence has
// aged past the validity window. Reads observe the same staleness rule
// lazily; the sweep keeps ledger entries and scores current for
// controls nobody is reading.
type Sweeper struct {
	candidates StaleCandidateSource
	reconciler *verification.Reconciler
	scores     ScoreInvalidator
	metrics    *metrics.Registry
	logger     *zap.Logger
	window     time.Duration
	interval   time.Duration
}

// ScoreInvalidator drops a cached score after a state change.
type ScoreInvalidator interface {
	Invalidate(ctx context.Context, controlID uuid.UUID) error
}

func NewSweeper(
	candidates StaleCandidateSource,
	reconciler *verification.Reconciler,
	scores ScoreInvalidator,
	m *metrics.Registry,
	logger *zap.Logger,
	window, interval time.Duration,
) *Sweeper {
	return &Sweeper{
		candidates: candidates,
		reconciler: reconciler,
		scores:     scores,
		metrics:    m,
		logger:     logger,
		window:     window,
		interval:   interval,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("staleness sweeper started",
		zap.Duration("interval", s.interval), zap.Duration("window", s.window))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("staleness sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("staleness sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass. Per-control downgrade failures are logged and
// skipped so one contended row cannot stall the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	stale, err := s.candidates.ListVerifiedBefore(ctx, now.Add(-s.window))
	if err != nil {
		return err
	}

	var downgraded int
	for _, c := range stale {
		if err := s.reconciler.MarkStale(ctx, c, now); err != nil {
			s.logger.Warn("sweep downgrade failed",
				zap.String("control_id", c.ID.String()), zap.Error(err))
			continue
		}
		downgraded++
		s.metrics.ControlsStale.Add(ctx, 1)
		if err := s.scores.Invalidate(ctx, c.ID); err != nil {
			s.logger.Warn("score cache invalidation failed",
				zap.String("control_id", c.ID.String()), zap.Error(err))
		}
	}
	if downgraded > 0 {
		s.logger.Info("staleness sweep downgraded controls", zap.Int("count", downgraded))
	}
	return nil
}
