package queue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/optty-gateway/internal/queue"
)

type fakeReconciler struct {
	calls int
	err   error
}

func (f *fakeReconciler) ReconcileOnHold(context.Context) error {
	f.calls++
	return f.err
}

func TestProcessTaskRunsReconciliation(t *testing.T) {
	rec := &fakeReconciler{}
	h := queue.ReconcileHandler{Reconciler: rec, Logger: zerolog.Nop()}

	require.NoError(t, h.ProcessTask(context.Background(), queue.NewReconcileOnHoldTask()))
	assert.Equal(t, 1, rec.calls)
}

func TestProcessTaskPropagatesFailureForRetry(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("aggregator unavailable")}
	h := queue.ReconcileHandler{Reconciler: rec, Logger: zerolog.Nop()}

	err := h.ProcessTask(context.Background(), queue.NewReconcileOnHoldTask())
	require.Error(t, err)
}
