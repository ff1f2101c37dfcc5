package generation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

const taskColumns = `id, user_id, kie_task_id, status, style, prompt, original_image_url,
	result_image_url, kie_result_url, credits_used, error_message, created_at, completed_at`

// openStatuses guards every transition. A statement that matches zero rows
// lost the race to a concurrent writer.
const openStatuses = `status IN ('pending', 'processing')`

// Repository owns the generation_tasks table.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a pending task.
func (r *Repository) Create(ctx context.Context, t *Task) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	err := r.db.GetContext(ctx2, t, `
		INSERT INTO generation_tasks (id, user_id, kie_task_id, status, style, prompt, original_image_url, credits_used)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7)
		RETURNING `+taskColumns,
		t.ID, t.UserID, t.KieTaskID, t.Style, t.Prompt, t.OriginalImageURL, t.CreditsUsed,
	)
	if err != nil {
		return fmt.Errorf("insert generation task: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrTaskNotFound
	}
	return r.getOne(ctx, `SELECT `+taskColumns+` FROM generation_tasks WHERE id = $1`, id)
}

func (r *Repository) GetByRemoteID(ctx context.Context, remoteTaskID string) (*Task, error) {
	if remoteTaskID == "" {
		return nil, ErrTaskNotFound
	}
	return r.getOne(ctx, `SELECT `+taskColumns+` FROM generation_tasks WHERE kie_task_id = $1`, remoteTaskID)
}

func (r *Repository) getOne(ctx context.Context, query string, arg string) (*Task, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Task
	err := r.db.GetContext(ctx2, &t, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation task: %w", err)
	}
	return &t, nil
}

// ListByUser returns the user's tasks, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]Task, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	tasks := make([]Task, 0)
	err := r.db.SelectContext(ctx2, &tasks, `
		SELECT `+taskColumns+`
		FROM generation_tasks
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generation tasks: %w", err)
	}
	return tasks, nil
}

// ListOpen returns non-terminal tasks that have a remote job, oldest first.
func (r *Repository) ListOpen(ctx context.Context, limit int) ([]Task, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	tasks := make([]Task, 0)
	err := r.db.SelectContext(ctx2, &tasks, `
		SELECT `+taskColumns+`
		FROM generation_tasks
		WHERE `+openStatuses+` AND kie_task_id IS NOT NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list open generation tasks: %w", err)
	}
	return tasks, nil
}

// MarkProcessing moves a pending task to processing. ok is false when the
// task had already left pending.
func (r *Repository) MarkProcessing(ctx context.Context, id string) (*Task, bool, error) {
	return r.transition(ctx, `
		UPDATE generation_tasks SET status = 'processing'
		WHERE id = $1 AND status = 'pending'
		RETURNING `+taskColumns, id)
}

// MarkSuccess records the durable result. ok is false when another writer
// already finished the task.
func (r *Repository) MarkSuccess(ctx context.Context, id, resultImageURL, kieResultURL string) (*Task, bool, error) {
	return r.transition(ctx, `
		UPDATE generation_tasks
		SET status = 'success',
		    result_image_url = $2,
		    kie_result_url = NULLIF($3, ''),
		    completed_at = NOW()
		WHERE id = $1 AND `+openStatuses+`
		RETURNING `+taskColumns, id, resultImageURL, kieResultURL)
}

// MarkFailed records a terminal failure. ok is false when another writer
// already finished the task.
func (r *Repository) MarkFailed(ctx context.Context, id, message string) (*Task, bool, error) {
	return r.transition(ctx, `
		UPDATE generation_tasks
		SET status = 'failed',
		    error_message = $2,
		    completed_at = NOW()
		WHERE id = $1 AND `+openStatuses+`
		RETURNING `+taskColumns, id, message)
}

// FailStale fails every open task created before cutoff.
func (r *Repository) FailStale(ctx context.Context, cutoff time.Time, message string) ([]string, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ids := make([]string, 0)
	err := r.db.SelectContext(ctx2, &ids, `
		UPDATE generation_tasks
		SET status = 'failed',
		    error_message = $2,
		    completed_at = NOW()
		WHERE `+openStatuses+` AND created_at < $1
		RETURNING id
	`, cutoff, message)
	if err != nil {
		return nil, fmt.Errorf("fail stale generation tasks: %w", err)
	}
	return ids, nil
}

func (r *Repository) transition(ctx context.Context, query string, args ...interface{}) (*Task, bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Task
	err := r.db.GetContext(ctx2, &t, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("update generation task: %w", err)
	}
	return &t, true, nil
}
