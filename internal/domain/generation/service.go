package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pawtrait/pawtrait-api/internal/pkg/kie"
)

// Ledger is the slice of the credit ledger generation needs.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int, error)
	UseCredits(ctx context.Context, userID string, amount int, description, referenceID string) (bool, error)
	Refund(ctx context.Context, userID string, amount int, description, referenceID string) error
}

// RemoteJobs submits and inspects provider jobs.
type RemoteJobs interface {
	StatusSource
	Configured() bool
	CreateTask(ctx context.Context, req kie.CreateTaskRequest) (string, error)
}

// Notifier nudges the reconcile worker.
type Notifier interface {
	Notify(ctx context.Context, remoteTaskID string)
}

// Config holds per-deployment generation settings.
type Config struct {
	CreditsPerGeneration int
	CallbackURL          string
	CreationsLimit       int
}

// Service runs the generate / status / gallery flows.
type Service struct {
	store      Store
	credits    Ledger
	remote     RemoteJobs
	reconciler *Reconciler
	notifier   Notifier
	cfg        Config
}

func NewService(store Store, credits Ledger, remote RemoteJobs, reconciler *Reconciler, notifier Notifier, cfg Config) *Service {
	if cfg.CreditsPerGeneration <= 0 {
		cfg.CreditsPerGeneration = 20
	}
	if cfg.CreationsLimit <= 0 {
		cfg.CreationsLimit = 100
	}
	return &Service{
		store:      store,
		credits:    credits,
		remote:     remote,
		reconciler: reconciler,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// Cost is the number of credits one generation consumes.
func (s *Service) Cost() int {
	return s.cfg.CreditsPerGeneration
}

// GenerateInput is a validated generation request.
type GenerateInput struct {
	UserID   string
	ImageURL string
	Prompt   string
	Style    string
}

// Generate debits the user, submits the job and records it. Credits are
// refunded when the job cannot be submitted or recorded.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	if !s.remote.Configured() {
		return nil, ErrProviderNotConfigured
	}

	cost := s.cfg.CreditsPerGeneration
	taskID := uuid.NewString()

	ok, err := s.credits.UseCredits(ctx, in.UserID, cost, "Image generation - "+in.Style, taskID)
	if err != nil {
		return nil, fmt.Errorf("debit credits: %w", err)
	}
	if !ok {
		current, err := s.credits.GetBalance(ctx, in.UserID)
		if err != nil {
			return nil, fmt.Errorf("read balance: %w", err)
		}
		return nil, &InsufficientCreditsError{Required: cost, Current: current}
	}

	task, err := s.CreateTask(ctx, taskID, in)
	if err != nil {
		s.refund(ctx, in.UserID, cost, taskID, err)
		return nil, err
	}

	return &GenerateResult{
		TaskID:       task.ID,
		RemoteTaskID: task.KieTaskID.String,
		CreditsUsed:  cost,
	}, nil
}

// CreateTask submits the job and inserts the pending row. A failed
// submission leaves no row behind.
func (s *Service) CreateTask(ctx context.Context, taskID string, in GenerateInput) (*Task, error) {
	remoteID, err := s.remote.CreateTask(ctx, kie.CreateTaskRequest{
		Prompt:      in.Prompt,
		ImageURL:    in.ImageURL,
		CallbackURL: s.cfg.CallbackURL,
	})
	if err != nil {
		if errors.Is(err, kie.ErrNotConfigured) {
			return nil, ErrProviderNotConfigured
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderSubmit, err)
	}

	task := &Task{
		ID:               taskID,
		UserID:           in.UserID,
		Status:           StatusPending,
		Style:            in.Style,
		Prompt:           in.Prompt,
		OriginalImageURL: in.ImageURL,
		CreditsUsed:      s.cfg.CreditsPerGeneration,
	}
	task.KieTaskID.String, task.KieTaskID.Valid = remoteID, true

	if err := s.store.Create(ctx, task); err != nil {
		log.Error().Err(err).Str("kie_task_id", remoteID).Msg("remote job submitted but task row was not saved")
		return nil, err
	}

	log.Info().Str("task_id", task.ID).Str("kie_task_id", remoteID).Str("user_id", in.UserID).Str("style", in.Style).
		Msg("generation task created")
	return task, nil
}

func (s *Service) refund(ctx context.Context, userID string, amount int, taskID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.credits.Refund(ctx, userID, amount, "Refund - generation could not be started", taskID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("task_id", taskID).Msg("credit refund failed")
		return
	}
	log.Warn().Err(cause).Str("user_id", userID).Str("task_id", taskID).Int("amount", amount).Msg("generation credits refunded")
}

// GetStatus returns the caller's task, reconciling it with the provider
// when it is still open. Provider query failures leave the stored status.
func (s *Service) GetStatus(ctx context.Context, userID, taskID string) (*Task, error) {
	task, err := s.store.GetByID(ctx, strings.TrimSpace(taskID))
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrForbidden
	}

	updated, err := s.reconciler.Poll(ctx, task)
	if err != nil {
		if errors.Is(err, ErrProviderQuery) {
			log.Warn().Err(err).Str("task_id", task.ID).Msg("provider status query failed")
			return task, nil
		}
		return nil, err
	}
	return updated, nil
}

// ListCreations returns the user's tasks, newest first.
func (s *Service) ListCreations(ctx context.Context, userID string) ([]Task, error) {
	return s.store.ListByUser(ctx, userID, s.cfg.CreationsLimit)
}

// HandleCallback applies a provider notification. Unknown jobs are logged,
// reported to the reconcile worker and otherwise ignored.
func (s *Service) HandleCallback(ctx context.Context, cb *kie.Callback) error {
	_, err := s.reconciler.HandleCallback(ctx, cb.Status)
	if errors.Is(err, ErrTaskNotFound) {
		log.Warn().Str("kie_task_id", cb.Status.TaskID).Str("state", string(cb.Status.State)).
			Msg("callback for unknown task discarded")
		if s.notifier != nil && cb.Status.TaskID != "" {
			s.notifier.Notify(ctx, cb.Status.TaskID)
		}
		return nil
	}
	return err
}
