package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/evidentta/controlverify/internal/domain/control"
	"github.com/evidentta/controlverify/internal/domain/verification"
	"github.com/evidentta/controlverify/internal/infrastructure/repository"
)

// testPool starts a throwaway postgres container, applies the migrations
// and hands back a pool. Skipped in -short runs where docker may be
// unavailable.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("requires docker")
	}

	ctx := context.Background()
	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("controlverify_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://../../../migrations", connStr)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	srcErr, dbErr := m.Close()
	require.NoError(t, srcErr)
	require.NoError(t, dbErr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedControl(t *testing.T, controls *repository.ControlRepository) *control.Control {
	t.Helper()
	c := control.New(uuid.New(), "Enforce MFA", 90)
	require.NoError(t, controls.Create(context.Background(), c))
	return c
}

func entryAt(controlID uuid.UUID, result verification.Result, at time.Time) verification.HistoryEntry {
	return verification.HistoryEntry{
		ID:         uuid.New(),
		ControlID:  controlID,
		Result:     result,
		Confidence: string(control.ConfidenceHigh),
		Reason:     "mfa check",
		Provider:   "identity",
		ActorType:  verification.ActorIntegration,
		ActorID:    "identity",
		CreatedAt:  at,
	}
}

func TestHistoryRepository_ListOrdering(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	history := repository.NewHistoryRepository(pool)
	controls := repository.NewControlRepository(pool, history)
	c := seedControl(t, controls)

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		result := verification.ResultVerified
		if i%2 == 1 {
			result = verification.ResultFailed
		}
		require.NoError(t, history.Append(ctx, entryAt(c.ID, result, base.Add(time.Duration(i)*time.Hour))))
	}

	entries, err := history.List(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.True(t, !entries[i].CreatedAt.After(entries[i-1].CreatedAt),
			"entries must be most recent first")
	}

	limited, err := history.List(ctx, c.ID, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, entries[0].ID, limited[0].ID)
	assert.Equal(t, entries[1].ID, limited[1].ID)
}

func TestHistoryRepository_StateAt(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	history := repository.NewHistoryRepository(pool)
	controls := repository.NewControlRepository(pool, history)
	c := seedControl(t, controls)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, history.Append(ctx, entryAt(c.ID, verification.ResultVerified, now.Add(-48*time.Hour))))
	require.NoError(t, history.Append(ctx, entryAt(c.ID, verification.ResultFailed, now.Add(-24*time.Hour))))

	entry, err := history.StateAt(ctx, c.ID, now.Add(-36*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, verification.ResultVerified, entry.Result)

	entry, err = history.StateAt(ctx, c.ID, now)
	require.NoError(t, err)
	assert.Equal(t, verification.ResultFailed, entry.Result)

	_, err = history.StateAt(ctx, c.ID, now.Add(-72*time.Hour))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestHistoryRepository_AppendOnly(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	history := repository.NewHistoryRepository(pool)
	controls := repository.NewControlRepository(pool, history)
	c := seedControl(t, controls)

	e := entryAt(c.ID, verification.ResultVerified, time.Now().UTC())
	require.NoError(t, history.Append(ctx, e))

	_, err := pool.Exec(ctx, `UPDATE verification_history SET reason = 'rewritten' WHERE id = $1`, e.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = pool.Exec(ctx, `DELETE FROM verification_history WHERE id = $1`, e.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	entries, err := history.List(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mfa check", entries[0].Reason)
}

func TestControlRepository_ApplyOutcomeAtomicity(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	history := repository.NewHistoryRepository(pool)
	controls := repository.NewControlRepository(pool, history)
	seeded := seedControl(t, controls)

	// Round-trip through the database so updated_at carries the stored
	// microsecond precision the optimistic lock compares against.
	c, err := controls.GetByID(ctx, seeded.ID)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	readUpdatedAt := c.UpdatedAt
	require.NoError(t, c.SetImplementationStatus(control.ImplementationImplemented, now))
	entry := entryAt(c.ID, verification.ResultUnverified, now)

	require.NoError(t, controls.ApplyOutcome(ctx, c, entry, readUpdatedAt))

	stored, err := controls.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, control.ImplementationImplemented, stored.ImplementationStatus)
	assert.Equal(t, control.VerificationUnverified, stored.VerificationStatus)

	entries, err := history.List(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// A write guarded by a stale read must not land, and must not leave
	// a ledger entry behind.
	stale := entryAt(c.ID, verification.ResultVerified, now.Add(time.Minute))
	err = controls.ApplyOutcome(ctx, stored, stale, readUpdatedAt)
	require.ErrorIs(t, err, repository.ErrOptimisticLock)

	entries, err = history.List(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestControlRepository_RowDefaultsMatchEnums(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	controls := repository.NewControlRepository(pool, repository.NewHistoryRepository(pool))

	id := uuid.New()
	_, err := pool.Exec(ctx,
		`INSERT INTO controls (id, organization_id, name) VALUES ($1, $2, $3)`,
		id, uuid.New(), "Bare row")
	require.NoError(t, err)

	c, err := controls.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, control.ImplementationNotStarted, c.ImplementationStatus)
	assert.Equal(t, control.VerificationUnverified, c.VerificationStatus)
	require.NoError(t, c.Validate())
}
