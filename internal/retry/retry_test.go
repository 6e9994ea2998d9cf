package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/model"
)

var fast = Policy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

func TestRetriesTransient(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), fast, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, Mark(errors.New("503"))
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestStopsOnPermanent(t *testing.T) {
	calls := 0
	boom := errors.New("bad request")
	err := Do(context.Background(), fast, func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestNeverRetriesUnauthorized(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func(context.Context) error {
		calls++
		return Mark(fmt.Errorf("refresh: %w", model.ErrUnauthorized))
	})
	require.ErrorIs(t, err, model.ErrUnauthorized)
	assert.Equal(t, 1, calls)
}

func TestGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func(context.Context) error {
		calls++
		return Mark(errors.New("timeout"))
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)
}
