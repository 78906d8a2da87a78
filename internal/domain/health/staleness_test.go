package health_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/evidentta/controlverify/internal/domain/control"
	"github.com/evidentta/controlverify/internal/domain/health"
)

func verifiedControl(verifiedAt time.Time) *control.Control {
	c := control.New(uuid.New(), "Encrypt data at rest", 90)
	c.ApplyVerified("cloud", control.VerificationDetails{Confidence: control.ConfidenceHigh}, verifiedAt)
	return c
}

func TestEvaluateStaleness(t *testing.T) {
	now := time.Now().UTC()
	window := 90 * 24 * time.Hour

	tests := []struct {
		name    string
		control *control.Control
		want    control.VerificationStatus
	}{
		{
			name:    "fresh verification stays verified",
			control: verifiedControl(now.Add(-24 * time.Hour)),
			want:    control.VerificationVerified,
		},
		{
			name:    "verification exactly at the window edge stays verified",
			control: verifiedControl(now.Add(-window)),
			want:    control.VerificationVerified,
		},
		{
			name:    "verification past the window decays",
			control: verifiedControl(now.Add(-window - time.Hour)),
			want:    control.VerificationStale,
		},
		{
			name:    "failed control never decays",
			control: failedControl(now.Add(-window - time.Hour)),
			want:    control.VerificationFailed,
		},
		{
			name:    "unverified control keeps its status",
			control: control.New(uuid.New(), "x", 90),
			want:    control.VerificationUnverified,
		},
		{
			name: "verified without a timestamp counts as aged out",
			control: func() *control.Control {
				c := control.New(uuid.New(), "x", 90)
				c.VerificationStatus = control.VerificationVerified
				return c
			}(),
			want: control.VerificationStale,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, health.EvaluateStaleness(tt.control, now, window))
		})
	}
}

func failedControl(at time.Time) *control.Control {
	c := control.New(uuid.New(), "x", 90)
	c.ApplyFailed("cloud", control.VerificationDetails{Confidence: control.ConfidenceHigh}, at)
	return c
}

func TestEvaluateStaleness_Idempotent(t *testing.T) {
	now := time.Now().UTC()
	window := 90 * 24 * time.Hour
	c := verifiedControl(now.Add(-100 * 24 * time.Hour))

	first := health.EvaluateStaleness(c, now, window)
	second := health.EvaluateStaleness(c, now, window)
	assert.Equal(t, first, second)

	// Applying the downgrade and evaluating again keeps it stale.
	c.MarkStale(now)
	assert.Equal(t, control.VerificationStale, health.EvaluateStaleness(c, now, window))
	assert.False(t, health.IsStale(c, now, window))
}

func TestEvaluateStaleness_DefaultWindow(t *testing.T) {
	now := time.Now().UTC()
	c := verifiedControl(now.Add(-91 * 24 * time.Hour))
	assert.Equal(t, control.VerificationStale, health.EvaluateStaleness(c, now, 0))
}
