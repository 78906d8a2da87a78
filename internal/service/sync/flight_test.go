package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlightGroup_CollapsesConcurrentCalls(t *testing.T) {
	g := newFlightGroup()

	var executions atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	fn := func() (Result, error) {
		executions.Add(1)
		close(started)
		<-release
		return Result{EvidenceGenerated: 9}, nil
	}

	var wg sync.WaitGroup
	results := make([]Result, 3)
	joins := make([]bool, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], joins[0], _ = g.do(context.Background(), "org:integ", fn)
	}()
	<-started

	for i := 1; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], joins[i], _ = g.do(context.Background(), "org:integ", func() (Result, error) {
				executions.Add(1)
				return Result{}, nil
			})
		}(i)
	}

	// Give the joiners time to register before releasing the leader.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), executions.Load())
	assert.False(t, joins[0])
	for i := 1; i < 3; i++ {
		assert.True(t, joins[i])
		assert.Equal(t, 9, results[i].EvidenceGenerated)
	}
}

func TestFlightGroup_DistinctKeysRunIndependently(t *testing.T) {
	g := newFlightGroup()

	var executions atomic.Int32
	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, joined, err := g.do(context.Background(), key, func() (Result, error) {
				executions.Add(1)
				return Result{}, nil
			})
			assert.NoError(t, err)
			assert.False(t, joined)
		}(key)
	}
	wg.Wait()

	assert.Equal(t, int32(3), executions.Load())
}

func TestFlightGroup_WaiterCancellation(t *testing.T) {
	g := newFlightGroup()

	release := make(chan struct{})
	started := make(chan struct{})
	leaderDone := make(chan struct{})

	go func() {
		defer close(leaderDone)
		_, _, err := g.do(context.Background(), "k", func() (Result, error) {
			close(started)
			<-release
			return Result{ControlsVerified: 1}, nil
		})
		assert.NoError(t, err)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, joined, err := g.do(ctx, "k", func() (Result, error) {
		t.Fatal("joiner must not execute fn")
		return Result{}, nil
	})
	assert.True(t, joined)
	require.ErrorIs(t, err, context.Canceled)

	// Cancelling the waiter must not disturb the leader.
	close(release)
	<-leaderDone
}

func TestFlightGroup_LeaderPanicReleasesKey(t *testing.T) {
	g := newFlightGroup()

	func() {
		defer func() {
			require.NotNil(t, recover())
		}()
		_, _, _ = g.do(context.Background(), "k", func() (Result, error) {
			panic("provider adapter blew up")
		})
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, joined, err := g.do(context.Background(), "k", func() (Result, error) {
			return Result{ControlsVerified: 1}, nil
		})
		assert.NoError(t, err)
		assert.False(t, joined)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("key still held after leader panic")
	}
}

func TestFlightGroup_KeyReusableAfterCompletion(t *testing.T) {
	g := newFlightGroup()

	var executions atomic.Int32
	for i := 0; i < 2; i++ {
		_, joined, err := g.do(context.Background(), "k", func() (Result, error) {
			executions.Add(1)
			return Result{}, nil
		})
		require.NoError(t, err)
		assert.False(t, joined)
	}
	assert.Equal(t, int32(2), executions.Load())
}
