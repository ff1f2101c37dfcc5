package generation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pawtrait/pawtrait-api/internal/pkg/kie"
	"github.com/pawtrait/pawtrait-api/internal/pkg/tasklock"
)

// memStore mirrors the guarded UPDATE statements of Repository.
type memStore struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	successes int
	createErr error
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[string]*Task)}
}

func (s *memStore) put(t *Task) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.tasks[cp.ID] = &cp
	out := cp
	return &out
}

func (s *memStore) get(id string) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

func (s *memStore) Create(ctx context.Context, t *Task) error {
	if s.createErr != nil {
		return s.createErr
	}
	*t = *s.put(t)
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) GetByRemoteID(ctx context.Context, remoteTaskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.KieTaskID.Valid && t.KieTaskID.String == remoteTaskID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTaskNotFound
}

func (s *memStore) ListByUser(ctx context.Context, userID string, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0)
	for _, t := range s.tasks {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) ListOpen(ctx context.Context, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0)
	for _, t := range s.tasks {
		if !t.Status.Terminal() && t.KieTaskID.Valid {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) MarkProcessing(ctx context.Context, id string) (*Task, bool, error) {
	return s.update(id, func(t *Task) bool { return t.Status == StatusPending }, func(t *Task) {
		t.Status = StatusProcessing
	})
}

func (s *memStore) MarkSuccess(ctx context.Context, id, resultImageURL, kieResultURL string) (*Task, bool, error) {
	out, ok, err := s.update(id, open, func(t *Task) {
		now := time.Now()
		t.Status = StatusSuccess
		t.ResultImageURL.String, t.ResultImageURL.Valid = resultImageURL, true
		t.KieResultURL.String, t.KieResultURL.Valid = kieResultURL, true
		t.CompletedAt = &now
	})
	if ok {
		s.mu.Lock()
		s.successes++
		s.mu.Unlock()
	}
	return out, ok, err
}

func (s *memStore) MarkFailed(ctx context.Context, id, message string) (*Task, bool, error) {
	return s.update(id, open, func(t *Task) {
		now := time.Now()
		t.Status = StatusFailed
		t.ErrorMessage.String, t.ErrorMessage.Valid = message, true
		t.CompletedAt = &now
	})
}

func (s *memStore) FailStale(ctx context.Context, cutoff time.Time, message string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0)
	for _, t := range s.tasks {
		if open(t) && t.CreatedAt.Before(cutoff) {
			now := time.Now()
			t.Status = StatusFailed
			t.ErrorMessage.String, t.ErrorMessage.Valid = message, true
			t.CompletedAt = &now
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

func open(t *Task) bool { return !t.Status.Terminal() }

func (s *memStore) update(id string, guard func(*Task) bool, apply func(*Task)) (*Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || !guard(t) {
		return nil, false, nil
	}
	apply(t)
	cp := *t
	return &cp, true, nil
}

type fakeRemote struct {
	mu         sync.Mutex
	configured bool
	createErr  error
	nextID     string
	status     kie.Status
	statusErr  error
	queries    int
	created    []kie.CreateTaskRequest
}

func (f *fakeRemote) Configured() bool { return f.configured }

func (f *fakeRemote) CreateTask(ctx context.Context, req kie.CreateTaskRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.nextID, nil
}

func (f *fakeRemote) GetTaskStatus(ctx context.Context, taskID string) (*kie.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	st := f.status
	st.TaskID = taskID
	return &st, nil
}

func (f *fakeRemote) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

type fakeSaver struct {
	mu        sync.Mutex
	err       error
	delay     time.Duration
	saved     int
	discarded []string
}

func (f *fakeSaver) Materialize(ctx context.Context, remoteURL string) (*Asset, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.saved++
	key := fmt.Sprintf("generated/%d.png", f.saved)
	return &Asset{Key: key, URL: "https://cdn.test/" + key}, nil
}

func (f *fakeSaver) Discard(ctx context.Context, asset *Asset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, asset.Key)
}

type fakeLedger struct {
	mu       sync.Mutex
	balance  int
	refunds  []string
	useErr   error
	spentRef []string
}

func (f *fakeLedger) GetBalance(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeLedger) UseCredits(ctx context.Context, userID string, amount int, description, referenceID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.useErr != nil {
		return false, f.useErr
	}
	if f.balance < amount {
		return false, nil
	}
	f.balance -= amount
	f.spentRef = append(f.spentRef, referenceID)
	return true, nil
}

func (f *fakeLedger) Refund(ctx context.Context, userID string, amount int, description, referenceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance += amount
	f.refunds = append(f.refunds, referenceID)
	return nil
}

// denyLocker reports the lock as held elsewhere.
type denyLocker struct{}

func (denyLocker) TryAcquire(ctx context.Context, key string) (tasklock.Lease, bool, error) {
	return tasklock.Lease{}, false, nil
}

type fakeNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeNotifier) Notify(ctx context.Context, remoteTaskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, remoteTaskID)
}

var errBoom = errors.New("boom")

const testUser = "user-a"

func pendingTask(id, remoteID string) *Task {
	t := &Task{
		ID:               id,
		UserID:           testUser,
		Status:           StatusPending,
		Style:            "christmas",
		Prompt:           "a festive portrait",
		OriginalImageURL: "https://img.test/pet.png",
		CreditsUsed:      20,
	}
	t.KieTaskID.String, t.KieTaskID.Valid = remoteID, true
	return t
}
