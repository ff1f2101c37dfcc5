package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pawtrait/pawtrait-api/internal/pkg/kie"
	"github.com/pawtrait/pawtrait-api/internal/pkg/tasklock"
)

// Store is the persistence the reconciler and service need.
type Store interface {
	Create(ctx context.Context, t *Task) error
	GetByID(ctx context.Context, id string) (*Task, error)
	GetByRemoteID(ctx context.Context, remoteTaskID string) (*Task, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Task, error)
	ListOpen(ctx context.Context, limit int) ([]Task, error)
	MarkProcessing(ctx context.Context, id string) (*Task, bool, error)
	MarkSuccess(ctx context.Context, id, resultImageURL, kieResultURL string) (*Task, bool, error)
	MarkFailed(ctx context.Context, id, message string) (*Task, bool, error)
	FailStale(ctx context.Context, cutoff time.Time, message string) ([]string, error)
}

// StatusSource reports remote job state.
type StatusSource interface {
	GetTaskStatus(ctx context.Context, taskID string) (*kie.Status, error)
}

// ResultSaver materializes provider results.
type ResultSaver interface {
	Materialize(ctx context.Context, remoteURL string) (*Asset, error)
	Discard(ctx context.Context, asset *Asset)
}

// Locker serializes materialization of one remote job across processes.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (tasklock.Lease, bool, error)
}

// Reconciler advances tasks from remote state. Poll and callback deliveries
// may overlap; every terminal write is conditional on the task still being
// open, so the first writer wins and later ones reload its row.
type Reconciler struct {
	store  Store
	remote StatusSource
	saver  ResultSaver
	locker Locker
}

func NewReconciler(store Store, remote StatusSource, saver ResultSaver, locker Locker) *Reconciler {
	if locker == nil {
		locker = tasklock.New(nil, 0)
	}
	return &Reconciler{store: store, remote: remote, saver: saver, locker: locker}
}

// Poll returns terminal tasks as stored. Open tasks are checked against the
// provider and advanced.
func (r *Reconciler) Poll(ctx context.Context, task *Task) (*Task, error) {
	if task.Status.Terminal() || !task.KieTaskID.Valid {
		return task, nil
	}

	status, err := r.remote.GetTaskStatus(ctx, task.KieTaskID.String)
	if err != nil {
		return task, fmt.Errorf("%w: %v", ErrProviderQuery, err)
	}
	return r.apply(ctx, task, *status)
}

// HandleCallback applies a provider notification. ErrTaskNotFound is
// returned for jobs this deployment does not know.
func (r *Reconciler) HandleCallback(ctx context.Context, status kie.Status) (*Task, error) {
	task, err := r.store.GetByRemoteID(ctx, status.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		log.Debug().Str("task_id", task.ID).Str("kie_task_id", status.TaskID).Msg("callback for finished task ignored")
		return task, nil
	}
	return r.apply(ctx, task, status)
}

func (r *Reconciler) apply(ctx context.Context, task *Task, status kie.Status) (*Task, error) {
	switch status.State {
	case kie.StateSuccess:
		return r.succeed(ctx, task, status.ResultURL)
	case kie.StateFail:
		msg := status.ErrorMessage
		if msg == "" {
			msg = MsgGenerationFailed
		}
		return r.fail(ctx, task, msg)
	default:
		if task.Status != StatusPending {
			return task, nil
		}
		updated, ok, err := r.store.MarkProcessing(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return r.store.GetByID(ctx, task.ID)
		}
		return updated, nil
	}
}

func (r *Reconciler) succeed(ctx context.Context, task *Task, resultURL string) (*Task, error) {
	lease, ok, err := r.locker.TryAcquire(ctx, task.KieTaskID.String)
	if err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("task lock unavailable, continuing without it")
	}
	if !ok {
		// another worker is materializing this job
		return r.store.GetByID(ctx, task.ID)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to release task lock")
		}
	}()

	current, err := r.store.GetByID(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, nil
	}

	asset, err := r.saver.Materialize(ctx, resultURL)
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Str("kie_task_id", task.KieTaskID.String).Msg("failed to save result image")
		return r.fail(ctx, current, MsgSaveFailed)
	}

	updated, won, err := r.store.MarkSuccess(ctx, task.ID, asset.URL, resultURL)
	if err != nil {
		r.saver.Discard(context.WithoutCancel(ctx), asset)
		return nil, err
	}
	if !won {
		r.saver.Discard(context.WithoutCancel(ctx), asset)
		return r.store.GetByID(ctx, task.ID)
	}

	log.Info().Str("task_id", task.ID).Str("user_id", task.UserID).Msg("generation task succeeded")
	return updated, nil
}

func (r *Reconciler) fail(ctx context.Context, task *Task, message string) (*Task, error) {
	updated, won, err := r.store.MarkFailed(ctx, task.ID, message)
	if err != nil {
		return nil, err
	}
	if !won {
		return r.store.GetByID(ctx, task.ID)
	}

	log.Info().Str("task_id", task.ID).Str("user_id", task.UserID).Str("reason", message).Msg("generation task failed")
	return updated, nil
}

// ReconcileOpen polls up to limit open tasks. Per-task errors are logged and
// do not stop the sweep.
func (r *Reconciler) ReconcileOpen(ctx context.Context, limit int) (int, error) {
	tasks, err := r.store.ListOpen(ctx, limit)
	if err != nil {
		return 0, err
	}

	finished := 0
	for i := range tasks {
		if ctx.Err() != nil {
			return finished, ctx.Err()
		}
		updated, err := r.Poll(ctx, &tasks[i])
		if err != nil {
			level := log.Warn()
			if !errors.Is(err, ErrProviderQuery) {
				level = log.Error()
			}
			level.Err(err).Str("task_id", tasks[i].ID).Msg("reconcile task failed")
			continue
		}
		if updated.Status.Terminal() {
			finished++
		}
	}
	return finished, nil
}

// ExpireStale fails open tasks older than maxAge. A zero maxAge disables it.
func (r *Reconciler) ExpireStale(ctx context.Context, maxAge time.Duration, now time.Time) ([]string, error) {
	if maxAge <= 0 {
		return nil, nil
	}
	ids, err := r.store.FailStale(ctx, now.Add(-maxAge), MsgTimedOut)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		log.Warn().Str("task_id", id).Dur("max_age", maxAge).Msg("generation task timed out")
	}
	return ids, nil
}
