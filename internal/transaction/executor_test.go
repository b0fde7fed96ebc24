package transaction

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordStep(name string, log *[]string, doErr, undoErr error) Step {
	return Step{
		Name: name,
		Do: func(ctx context.Context) error {
			*log = append(*log, "do:"+name)
			return doErr
		},
		Undo: func(ctx context.Context) error {
			*log = append(*log, "undo:"+name)
			return undoErr
		},
	}
}

func TestRun_AllStepsSucceed(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var log []string

	err := NewExecutor(logger).Run(context.Background(),
		recordStep("a", &log, nil, nil),
		recordStep("b", &log, nil, nil),
	)

	require.NoError(t, err)
	assert.Equal(t, []string{"do:a", "do:b"}, log)
	assert.Empty(t, hook.AllEntries())
}

func TestRun_FailureUndoesCompletedStepsInReverse(t *testing.T) {
	logger, _ := test.NewNullLogger()
	var log []string
	boom := errors.New("boom")

	err := NewExecutor(logger).Run(context.Background(),
		recordStep("a", &log, nil, nil),
		recordStep("b", &log, nil, nil),
		recordStep("c", &log, boom, nil),
		recordStep("d", &log, nil, nil),
	)

	assert.ErrorIs(t, err, boom)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "c", stepErr.Step)
	assert.Equal(t, []string{"do:a", "do:b", "do:c", "undo:b", "undo:a"}, log)
}

func TestRun_FailedUndoIsDeadLettered(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var log []string
	boom := errors.New("boom")
	undoFailed := errors.New("undo failed")

	err := NewExecutor(logger).Run(context.Background(),
		recordStep("a", &log, nil, nil),
		recordStep("b", &log, nil, undoFailed),
		recordStep("c", &log, boom, nil),
	)

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, undoFailed)
	assert.Equal(t, []string{"do:a", "do:b", "do:c", "undo:b", "undo:a"}, log)

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "dead_letter", entry.Data["event"])
	assert.Equal(t, "b", entry.Data["step"])
	assert.Equal(t, "c", entry.Data["failed_step"])
}

func TestRun_CancelledContextStopsBeforeNextStep(t *testing.T) {
	logger, _ := test.NewNullLogger()
	var log []string
	ctx, cancel := context.WithCancel(context.Background())

	cancelling := Step{
		Name: "cancel",
		Do: func(ctx context.Context) error {
			log = append(log, "do:cancel")
			cancel()
			return nil
		},
		Undo: func(ctx context.Context) error {
			log = append(log, "undo:cancel")
			return nil
		},
	}

	err := NewExecutor(logger).Run(ctx, cancelling, recordStep("next", &log, nil, nil))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"do:cancel", "undo:cancel"}, log)
}
