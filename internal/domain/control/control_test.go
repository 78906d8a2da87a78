package control_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidentta/controlverify/internal/domain/control"
)

func TestNew(t *testing.T) {
	orgID := uuid.New()
	c := control.New(orgID, "Enforce MFA for all accounts", 90)

	assert.NotEqual(t, uuid.Nil, c.ID)
	assert.Equal(t, orgID, c.OrganizationID)
	assert.Equal(t, control.ImplementationNotStarted, c.ImplementationStatus)
	assert.Equal(t, control.VerificationUnverified, c.VerificationStatus)
	assert.Equal(t, 90, c.ReviewFrequencyDays)
	assert.Nil(t, c.VerifiedAt)
	assert.NoError(t, c.Validate())
}

func TestControl_ApplyVerified(t *testing.T) {
	now := time.Now().UTC()
	c := control.New(uuid.New(), "Encrypt data at rest", 90)

	c.ApplyVerified("cloud", control.VerificationDetails{
		Confidence: control.ConfidenceHigh,
		Reason:     "storage encryption enabled on all buckets",
	}, now)

	assert.Equal(t, control.VerificationVerified, c.VerificationStatus)
	require.NotNil(t, c.VerifiedAt)
	assert.Equal(t, now, *c.VerifiedAt)
	require.NotNil(t, c.VerificationSource)
	assert.Equal(t, "cloud", *c.VerificationSource)
	assert.NoError(t, c.Validate())
}

func TestControl_ApplyFailed_PreservesLastKnownGood(t *testing.T) {
	verifiedAt := time.Now().UTC().Add(-24 * time.Hour)
	c := control.New(uuid.New(), "Require branch protection", 90)
	c.ApplyVerified("sourcecode", control.VerificationDetails{Confidence: control.ConfidenceHigh}, verifiedAt)

	now := time.Now().UTC()
	c.ApplyFailed("sourcecode", control.VerificationDetails{
		Confidence: control.ConfidenceHigh,
		Reason:     "branch protection disabled on main",
	}, now)

	assert.Equal(t, control.VerificationFailed, c.VerificationStatus)
	require.NotNil(t, c.VerifiedAt)
	assert.Equal(t, verifiedAt, *c.VerifiedAt)
}

func TestControl_MarkStale(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name       string
		setup      func(c *control.Control)
		downgraded bool
		status     control.VerificationStatus
	}{
		{
			name: "verified control goes stale",
			setup: func(c *control.Control) {
				c.ApplyVerified("identity", control.VerificationDetails{Confidence: control.ConfidenceHigh}, now.Add(-time.Hour))
			},
			downgraded: true,
			status:     control.VerificationStale,
		},
		{
			name:       "unverified control is untouched",
			setup:      func(c *control.Control) {},
			downgraded: false,
			status:     control.VerificationUnverified,
		},
		{
			name: "failed control is untouched",
			setup: func(c *control.Control) {
				c.ApplyFailed("identity", control.VerificationDetails{Confidence: control.ConfidenceHigh}, now.Add(-time.Hour))
			},
			downgraded: false,
			status:     control.VerificationFailed,
		},
		{
			name: "already stale control is untouched",
			setup: func(c *control.Control) {
				c.ApplyVerified("identity", control.VerificationDetails{Confidence: control.ConfidenceHigh}, now.Add(-2*time.Hour))
				c.MarkStale(now.Add(-time.Hour))
			},
			downgraded: false,
			status:     control.VerificationStale,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := control.New(uuid.New(), "Audit logging enabled", 90)
			tt.setup(c)
			assert.Equal(t, tt.downgraded, c.MarkStale(now))
			assert.Equal(t, tt.status, c.VerificationStatus)
		})
	}
}

func TestControl_SetImplementationStatus(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name     string
		setup    func(c *control.Control)
		status   control.ImplementationStatus
		wantErr  bool
		validate func(t *testing.T, c *control.Control)
	}{
		{
			name:   "self-attested implemented resets failed verification",
			status: control.ImplementationImplemented,
			setup: func(c *control.Control) {
				c.ApplyFailed("cloud", control.VerificationDetails{Confidence: control.ConfidenceHigh, Reason: "encryption off"}, now.Add(-time.Hour))
			},
			validate: func(t *testing.T, c *control.Control) {
				assert.Equal(t, control.VerificationUnverified, c.VerificationStatus)
				assert.Nil(t, c.VerificationSource)
				assert.Nil(t, c.VerificationDetails)
			},
		},
		{
			name:   "implemented keeps a live verified status",
			status: control.ImplementationImplemented,
			setup: func(c *control.Control) {
				c.ApplyVerified("cloud", control.VerificationDetails{Confidence: control.ConfidenceHigh}, now.Add(-time.Hour))
			},
			validate: func(t *testing.T, c *control.Control) {
				assert.Equal(t, control.VerificationVerified, c.VerificationStatus)
			},
		},
		{
			name:   "in progress leaves verification alone",
			status: control.ImplementationInProgress,
			setup: func(c *control.Control) {
				c.ApplyFailed("cloud", control.VerificationDetails{Confidence: control.ConfidenceHigh}, now.Add(-time.Hour))
			},
			validate: func(t *testing.T, c *control.Control) {
				assert.Equal(t, control.VerificationFailed, c.VerificationStatus)
			},
		},
		{
			name:    "invalid status rejected",
			status:  control.ImplementationStatus("done-ish"),
			setup:   func(c *control.Control) {},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := control.New(uuid.New(), "Block public bucket access", 90)
			tt.setup(c)
			err := c.SetImplementationStatus(tt.status, now)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, c)
		})
	}
}

func TestControl_RecordReview(t *testing.T) {
	now := time.Now().UTC()
	c := control.New(uuid.New(), "Review access quarterly", 90)

	c.RecordReview(now)

	require.NotNil(t, c.LastReviewedAt)
	assert.Equal(t, now, *c.LastReviewedAt)
	require.NotNil(t, c.NextReviewAt)
	assert.Equal(t, now.AddDate(0, 0, 90), *c.NextReviewAt)
}

func TestControl_SoftDelete(t *testing.T) {
	now := time.Now().UTC()
	c := control.New(uuid.New(), "Rotate credentials", 30)

	assert.False(t, c.IsDeleted())
	c.SoftDelete(now)
	assert.True(t, c.IsDeleted())
	require.NotNil(t, c.DeletedAt)
}

func TestControl_Validate(t *testing.T) {
	now := time.Now().UTC()

	t.Run("verified without timestamp fails", func(t *testing.T) {
		c := control.New(uuid.New(), "x", 90)
		c.VerificationStatus = control.VerificationVerified
		assert.Error(t, c.Validate())
	})

	t.Run("verified with source passes", func(t *testing.T) {
		c := control.New(uuid.New(), "x", 90)
		c.ApplyVerified("identity", control.VerificationDetails{Confidence: control.ConfidenceMedium}, now)
		assert.NoError(t, c.Validate())
	})
}

func TestConfidence_Rank(t *testing.T) {
	assert.Greater(t, control.ConfidenceHigh.Rank(), control.ConfidenceMedium.Rank())
	assert.Greater(t, control.ConfidenceMedium.Rank(), control.ConfidenceLow.Rank())
	assert.Greater(t, control.ConfidenceLow.Rank(), control.Confidence("").Rank())
}
