package verification_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evidentta/controlverify/internal/domain/control"
	domainerrors "github.com/evidentta/controlverify/internal/domain/errors"
	domainverification "github.com/evidentta/controlverify/internal/domain/verification"
	"github.com/evidentta/controlverify/internal/infrastructure/repository"
	"github.com/evidentta/controlverify/internal/service/verification"
)

// mockControlRepo simulates the optimistic lock: ApplyOutcome fails while
// conflicts > 0, decrementing each call, then succeeds.
type mockControlRepo struct {
	control   *control.Control
	conflicts int

	applied   []domainverification.HistoryEntry
	getCalls  int
	lastState *control.Control
}

func (m *mockControlRepo) GetByID(_ context.Context, id uuid.UUID) (*control.Control, error) {
	m.getCalls++
	if m.control == nil || m.control.ID != id {
		return nil, repository.ErrNotFound
	}
	copied := *m.control
	return &copied, nil
}

func (m *mockControlRepo) ApplyOutcome(_ context.Context, c *control.Control, entry domainverification.HistoryEntry, readUpdatedAt time.Time) error {
	if m.conflicts > 0 {
		m.conflicts--
		// Concurrent writer bumped the row.
		m.control.UpdatedAt = m.control.UpdatedAt.Add(time.Millisecond)
		return repository.ErrOptimisticLock
	}
	if !m.control.UpdatedAt.Equal(readUpdatedAt) {
		return repository.ErrOptimisticLock
	}
	m.control = c
	m.lastState = c
	m.applied = append(m.applied, entry)
	return nil
}

func (m *mockControlRepo) Update(_ context.Context, c *control.Control) error {
	m.control = c
	return nil
}

func passingCandidate(controlID uuid.UUID, provider string) domainverification.Candidate {
	return domainverification.Candidate{
		ControlID:  controlID,
		Provider:   provider,
		FactType:   domainverification.FactMFAEnforced,
		Passed:     true,
		Confidence: control.ConfidenceHigh,
		Reason:     "mfa enforced for all accounts",
	}
}

func TestReconciler_Apply(t *testing.T) {
	now := time.Now().UTC()
	c := control.New(uuid.New(), "Enforce MFA", 90)

	repo := &mockControlRepo{control: c}
	r := verification.NewReconciler(repo, zap.NewNop())

	outcome, transition, err := r.Apply(context.Background(), c.ID,
		[]domainverification.Candidate{passingCandidate(c.ID, "identity")},
		domainverification.ActorIntegration, "identity", now)

	require.NoError(t, err)
	assert.Equal(t, domainverification.ResultVerified, outcome.Result)
	assert.Equal(t, verification.TransitionVerified, transition)
	require.NotNil(t, repo.lastState)
	assert.Equal(t, control.VerificationVerified, repo.lastState.VerificationStatus)
	require.Len(t, repo.applied, 1)
	assert.Equal(t, domainverification.ResultVerified, repo.applied[0].Result)
	assert.Equal(t, domainverification.ActorIntegration, repo.applied[0].ActorType)
}

func TestReconciler_Apply_FailWins(t *testing.T) {
	now := time.Now().UTC()
	c := control.New(uuid.New(), "Enforce MFA", 90)
	repo := &mockControlRepo{control: c}
	r := verification.NewReconciler(repo, zap.NewNop())

	candidates := []domainverification.Candidate{
		passingCandidate(c.ID, "identity"),
		{
			ControlID:  c.ID,
			Provider:   "sourcecode",
			Passed:     false,
			Confidence: control.ConfidenceMedium,
			Reason:     "secret scanning disabled",
		},
	}

	outcome, transition, err := r.Apply(context.Background(), c.ID, candidates,
		domainverification.ActorIntegration, "identity", now)

	require.NoError(t, err)
	assert.Equal(t, domainverification.ResultFailed, outcome.Result)
	assert.Equal(t, verification.TransitionFailed, transition)
	assert.Equal(t, control.VerificationFailed, repo.lastState.VerificationStatus)
}

func TestReconciler_Apply_RetriesOptimisticLock(t *testing.T) {
	now := time.Now().UTC()
	c := control.New(uuid.New(), "Enforce MFA", 90)
	repo := &mockControlRepo{control: c, conflicts: 2}
	r := verification.NewReconciler(repo, zap.NewNop())

	_, transition, err := r.Apply(context.Background(), c.ID,
		[]domainverification.Candidate{passingCandidate(c.ID, "identity")},
		domainverification.ActorIntegration, "identity", now)

	require.NoError(t, err)
	assert.Equal(t, verification.TransitionVerified, transition)
	// One initial read plus one per retry.
	assert.Equal(t, 3, repo.getCalls)
}

func TestReconciler_Apply_GivesUpAfterRepeatedConflicts(t *testing.T) {
	now := time.Now().UTC()
	c := control.New(uuid.New(), "Enforce MFA", 90)
	repo := &mockControlRepo{control: c, conflicts: 10}
	r := verification.NewReconciler(repo, zap.NewNop())

	_, _, err := r.Apply(context.Background(), c.ID,
		[]domainverification.Candidate{passingCandidate(c.ID, "identity")},
		domainverification.ActorIntegration, "identity", now)

	require.Error(t, err)
	var appErr *domainerrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, domainerrors.ErrorTypePersistenceFailure, appErr.Type)
}

func TestReconciler_Apply_UnknownControl(t *testing.T) {
	repo := &mockControlRepo{}
	r := verification.NewReconciler(repo, zap.NewNop())
	id := uuid.New()

	_, _, err := r.Apply(context.Background(), id,
		[]domainverification.Candidate{passingCandidate(id, "identity")},
		domainverification.ActorIntegration, "identity", time.Now().UTC())

	assert.ErrorIs(t, err, domainerrors.ErrControlNotFound)
}

func TestReconciler_MarkStale(t *testing.T) {
	now := time.Now().UTC()

	t.Run("verified control is downgraded with a ledger entry", func(t *testing.T) {
		c := control.New(uuid.New(), "Encrypt data", 90)
		c.ApplyVerified("cloud", control.VerificationDetails{Confidence: control.ConfidenceHigh}, now.Add(-100*24*time.Hour))
		repo := &mockControlRepo{control: c}
		r := verification.NewReconciler(repo, zap.NewNop())

		working := *c
		require.NoError(t, r.MarkStale(context.Background(), &working, now))
		assert.Equal(t, control.VerificationStale, repo.lastState.VerificationStatus)
		require.Len(t, repo.applied, 1)
		assert.Equal(t, domainverification.ResultStale, repo.applied[0].Result)
		assert.Equal(t, domainverification.ActorSystem, repo.applied[0].ActorType)
	})

	t.Run("non-verified control is left alone", func(t *testing.T) {
		c := control.New(uuid.New(), "Encrypt data", 90)
		repo := &mockControlRepo{control: c}
		r := verification.NewReconciler(repo, zap.NewNop())

		working := *c
		require.NoError(t, r.MarkStale(context.Background(), &working, now))
		assert.Empty(t, repo.applied)
	})

	t.Run("losing the optimistic lock is not an error", func(t *testing.T) {
		c := control.New(uuid.New(), "Encrypt data", 90)
		c.ApplyVerified("cloud", control.VerificationDetails{Confidence: control.ConfidenceHigh}, now.Add(-100*24*time.Hour))
		repo := &mockControlRepo{control: c, conflicts: 10}
		r := verification.NewReconciler(repo, zap.NewNop())

		working := *c
		assert.NoError(t, r.MarkStale(context.Background(), &working, now))
		assert.Empty(t, repo.applied)
	})
}
