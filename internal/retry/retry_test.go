package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), Attempts(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Attempts(3), func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	require.Error(t, err)
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	policy := Attempts(3).On(func(err error) bool { return errors.Is(err, errTransient) })
	_, err := Do(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		return 0, fatal
	})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), Policy{}, func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, out)
	require.Equal(t, 1, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Attempts(5), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errTransient
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
