package queue

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TypeReconcileOnHold re-checks orders parked on hold against the
// aggregator. The scheduler enqueues it periodically; callbacks that arrive
// in between settle orders on their own.
const TypeReconcileOnHold = "orders:reconcile_on_hold"

// NewReconcileOnHoldTask builds the periodic reconciliation task. It carries
// no payload; the handler scans the store for on-hold orders itself.
func NewReconcileOnHoldTask() *asynq.Task {
	return asynq.NewTask(TypeReconcileOnHold, nil, asynq.MaxRetry(3))
}

// Reconciler is the slice of the callback reconciler the worker needs.
type Reconciler interface {
	ReconcileOnHold(ctx context.Context) error
}

// ReconcileHandler processes reconciliation tasks.
type ReconcileHandler struct {
	Reconciler Reconciler
	Logger     zerolog.Logger
}

func (h ReconcileHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	h.Logger.Info().Msg("reconciling on-hold orders")
	if err := h.Reconciler.ReconcileOnHold(ctx); err != nil {
		h.Logger.Error().Err(err).Msg("on-hold reconciliation failed")
		return err
	}
	return nil
}

// Mux returns the task router for the worker process.
func Mux(h ReconcileHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeReconcileOnHold, h)
	return mux
}
