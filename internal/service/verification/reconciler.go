package verification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evidentta/controlverify/internal/domain/control"
	domainerrors "github.com/evidentta/controlverify/internal/domain/errors"
	"github.com/evidentta/controlverify/internal/domain/verification"
	"github.com/evidentta/controlverify/internal/infrastructure/repository"
)

// Transition reports what a reconciliation pass actually did to a
// control, so sync counts reflect this pass and not prior state.
type Transition string

const (
	TransitionVerified Transition = "verified"
	TransitionFailed   Transition = "failed"
)

// Reconciler turns the candidates produced for one control within one
// sync pass into exactly one outcome and applies it atomically.
type Reconciler struct {
	controls ControlRepository
	logger   *zap.Logger

	// applyAttempts bounds the optimistic-lock retry loop when two
	// concurrent passes touch the same control.
	applyAttempts int
}

func NewReconciler(controls ControlRepository, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		controls:      controls,
		logger:        logger,
		applyAttempts: 3,
	}
}

// Apply reconciles the candidates and persists the outcome. The fail-wins
// decision depends only on this pass's candidates, so it is computed once;
// an optimistic-lock conflict re-reads the control and re-applies that
// same decision to the fresh row.
func (r *Reconciler) Apply(ctx context.Context, controlID uuid.UUID, candidates []verification.Candidate, actorType verification.ActorType, actorID string, now time.Time) (verification.Outcome, Transition, error) {
	outcome := verification.Reconcile(controlID, candidates, now)
	entry := verification.NewHistoryEntry(outcome, actorType, actorID)

	var lastErr error
	for attempt := 0; attempt < r.applyAttempts; attempt++ {
		c, err := r.controls.GetByID(ctx, controlID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return outcome, "", domainerrors.ErrControlNotFound
			}
			return outcome, "", err
		}

		readUpdatedAt := c.UpdatedAt
		var transition Transition
		switch outcome.Result {
		case verification.ResultVerified:
			c.ApplyVerified(outcome.Provider, outcome.Details(), now)
			transition = TransitionVerified
		case verification.ResultFailed:
			c.ApplyFailed(outcome.Provider, outcome.Details(), now)
			transition = TransitionFailed
		}

		err = r.controls.ApplyOutcome(ctx, c, entry, readUpdatedAt)
		if err == nil {
			r.logger.Info("verification outcome applied",
				zap.String("control_id", controlID.String()),
				zap.String("result", string(outcome.Result)),
				zap.String("confidence", string(outcome.Confidence)),
				zap.String("provider", outcome.Provider))
			return outcome, transition, nil
		}
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return outcome, "", err
		}
		lastErr = err
		r.logger.Debug("outcome apply lost optimistic lock, retrying",
			zap.String("control_id", controlID.String()),
			zap.Int("attempt", attempt+1))
	}
	return outcome, "", domainerrors.NewPersistenceError("outcome apply kept losing optimistic lock").WithCause(lastErr)
}

// MarkStale persists a staleness downgrade through the same atomic path
// the reconciler uses, with a system-actor history entry.
func (r *Reconciler) MarkStale(ctx context.Context, c *control.Control, now time.Time) error {
	readUpdatedAt := c.UpdatedAt
	if !c.MarkStale(now) {
		return nil
	}
	entry := verification.HistoryEntry{
		ID:        uuid.New(),
		ControlID: c.ID,
		Result:    verification.ResultStale,
		Reason:    "verification evidence exceeded its validity window",
		ActorType: verification.ActorSystem,
		ActorID:   "staleness-monitor",
		CreatedAt: now,
	}
	err := r.controls.ApplyOutcome(ctx, c, entry, readUpdatedAt)
	if errors.Is(err, repository.ErrOptimisticLock) {
		// Another pass re-verified or downgraded concurrently; the sweep
		// picks the control up again next cycle if still stale.
		return nil
	}
	return err
}
