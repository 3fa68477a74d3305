package trade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nickelnine37/sportfolios-server/internal/state"
)

const defaultPollInterval = time.Second

// Worker drains the delayed undo queue: orders whose price moved and that
// were never confirmed get their inventory change reversed here.
type Worker struct {
	store  state.Store
	engine *Engine
	logger *slog.Logger
	poll   time.Duration
}

func NewWorker(store state.Store, engine *Engine, logger *slog.Logger) *Worker {
	return &Worker{
		store:  store,
		engine: engine,
		logger: logger.With("component", "undo_worker"),
		poll:   defaultPollInterval,
	}
}

// Run polls for due undos until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain claims and executes every due job. Losing a claim is normal: a
// confirmation may take the job between listing and claiming.
func (w *Worker) drain(ctx context.Context) {
	ids, err := w.store.DueUndos(ctx, time.Now())
	if err != nil {
		w.logger.Error("list due undos", "error", err)
		return
	}

	for _, id := range ids {
		payload, err := w.store.ClaimUndo(ctx, id)
		if errors.Is(err, state.ErrNotFound) {
			continue
		}
		if err != nil {
			w.logger.Error("claim undo", "id", id, "error", err)
			continue
		}
		if err := w.engine.ExecuteUndo(ctx, payload); err != nil {
			w.logger.Error("execute undo", "id", id, "error", err)
			continue
		}
		w.logger.Info("scheduled undo executed", "id", id)
	}
}
