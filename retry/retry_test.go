package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/framer-cd/framer/domain"
)

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", Policy{MaxAttempts: 3, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.Transient("call", errors.New("unavailable"))
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnTerminalError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", Policy{MaxAttempts: 5, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		return domain.NewError(domain.KindValidation, "call", errors.New("bad input"))
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", Policy{MaxAttempts: 2, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		return domain.Transient("call", errors.New("unavailable"))
	})

	assert.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
}

func TestDo_CancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Do(ctx, "test", Policy{MaxAttempts: 3, Delay: time.Hour}, func(context.Context) error {
		cancel()
		return domain.Transient("call", errors.New("unavailable"))
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "test interrupted while waiting to retry")
}

func TestDo_WaitsBetweenAttempts(t *testing.T) {
	var stamps []time.Time
	err := Do(context.Background(), "test", Policy{MaxAttempts: 3, Delay: 20 * time.Millisecond}, func(context.Context) error {
		stamps = append(stamps, time.Now())
		return domain.Transient("call", errors.New("unavailable"))
	})

	assert.Error(t, err)
	assert.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 20*time.Millisecond)
	}
}

func TestDo_ReturnsLastErrorUnchanged(t *testing.T) {
	last := domain.Transient("call", errors.New("still unavailable"))
	calls := 0
	err := Do(context.Background(), "test", Policy{MaxAttempts: 2, Delay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls == 1 {
			return domain.Transient("call", errors.New("unavailable"))
		}
		return last
	})

	assert.Same(t, last, err)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", Policy{}, func(context.Context) error {
		calls++
		return domain.Transient("call", errors.New("unavailable"))
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
