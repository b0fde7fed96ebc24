package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindPermanent},
		{"unique violation", &pgconn.PgError{Code: "23505"}, KindUniqueness},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), KindUniqueness},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, KindTransient},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, KindTransient},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, KindTransient},
		{"check violation", &pgconn.PgError{Code: "23514"}, KindPermanent},
		{"sentinel transient", fmt.Errorf("write: %w", ErrTransient), KindTransient},
		{"sentinel uniqueness", ErrUniqueness, KindUniqueness},
		{"uniqueness beats transient", errors.Join(ErrTransient, ErrUniqueness), KindUniqueness},
		{"context canceled", context.Canceled, KindPermanent},
		{"plain error", errors.New("boom"), KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_UniquenessIsNeverRetried(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	predicateCalls := 0
	policy := fastPolicy(5)
	policy.ShouldRetry = func(error) bool {
		predicateCalls++
		return true
	}

	calls := 0
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return dup
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, predicateCalls)
	assert.Same(t, dup, err)
}

func TestDo_PermanentErrorReturnedUnmodified(t *testing.T) {
	boom := errors.New("insufficient stock")
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, boom, err)
}

func TestDo_ExhaustionKeepsLastError(t *testing.T) {
	conflict := &pgconn.PgError{Code: "40P01"}
	calls := 0
	err := Do(context.Background(), fastPolicy(2), func(ctx context.Context) error {
		calls++
		return conflict
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Same(t, conflict, pgErr)
}

func TestDo_CustomPredicate(t *testing.T) {
	flaky := errors.New("flaky upstream")
	policy := fastPolicy(2)
	policy.ShouldRetry = func(err error) bool { return errors.Is(err, flaky) }

	calls := 0
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return flaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxRetries: 10, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	calls := 0
	err := Do(ctx, policy, func(ctx context.Context) error {
		calls++
		cancel()
		return ErrTransient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 1, calls)
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), fastPolicy(1), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, ErrTransient
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestBackOffDelays(t *testing.T) {
	p := Policy{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}
	b := p.backOff()

	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 40*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 50*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 50*time.Millisecond, b.NextBackOff())
}

func TestBackOffJitterStaysWithinTenPercent(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: true}
	for i := 0; i < 50; i++ {
		b := p.backOff()
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
}
