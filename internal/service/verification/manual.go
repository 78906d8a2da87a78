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

// ManualService is the human mutation path for controls. It shares the
// repository with the reconciler so every write goes through the same
// atomic update.
type ManualService struct {
	controls ControlRepository
	audit    AuditSink
	logger   *zap.Logger
}

func NewManualService(controls ControlRepository, audit AuditSink, logger *zap.Logger) *ManualService {
	return &ManualService{
		controls: controls,
		audit:    audit,
		logger:   logger,
	}
}

// SetImplementationStatus applies a human edit. Self-attesting
// "implemented" on a control whose verification is not currently verified
// resets verification to unverified, and that reset is recorded in the
// history ledger and the external audit log.
func (s *ManualService) SetImplementationStatus(ctx context.Context, controlID uuid.UUID, status control.ImplementationStatus, actorID string) (*control.Control, error) {
	c, err := s.controls.GetByID(ctx, controlID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domainerrors.ErrControlNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	priorVerification := c.VerificationStatus
	readUpdatedAt := c.UpdatedAt

	if err := c.SetImplementationStatus(status, now); err != nil {
		return nil, domainerrors.NewValidationError("INVALID_STATUS", err.Error())
	}

	wasReset := priorVerification != c.VerificationStatus && c.VerificationStatus == control.VerificationUnverified
	if wasReset {
		// The verification reset and its ledger entry must commit
		// together, same as an automated outcome.
		entry := verification.HistoryEntry{
			ID:        uuid.New(),
			ControlID: c.ID,
			Result:    verification.ResultUnverified,
			Reason:    "implementation status set to implemented without fresh verification",
			ActorType: verification.ActorUser,
			ActorID:   actorID,
			CreatedAt: now,
		}
		if err := s.controls.ApplyOutcome(ctx, c, entry, readUpdatedAt); err != nil {
			if errors.Is(err, repository.ErrOptimisticLock) {
				return nil, domainerrors.NewConflictError("control was modified concurrently, retry the edit")
			}
			return nil, err
		}
	} else if err := s.controls.Update(ctx, c); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, verification.AuditEvent{
		Action:    "control.implementation_status_changed",
		ControlID: c.ID,
		ActorID:   actorID,
		Details: map[string]any{
			"status":             string(status),
			"verification_reset": wasReset,
		},
		At: now,
	}); err != nil {
		s.logger.Warn("audit sink rejected implementation-status event",
			zap.String("control_id", c.ID.String()), zap.Error(err))
	}

	return c, nil
}

// RecordReview stamps a completed human review.
func (s *ManualService) RecordReview(ctx context.Context, controlID uuid.UUID, actorID string) (*control.Control, error) {
	c, err := s.controls.GetByID(ctx, controlID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domainerrors.ErrControlNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	c.RecordReview(now)
	if err := s.controls.Update(ctx, c); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, verification.AuditEvent{
		Action:    "control.reviewed",
		ControlID: c.ID,
		ActorID:   actorID,
		At:        now,
	}); err != nil {
		s.logger.Warn("audit sink rejected review event",
			zap.String("control_id", c.ID.String()), zap.Error(err))
	}

	return c, nil
}
