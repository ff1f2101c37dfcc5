package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/pawtrait/pawtrait-api/internal/pkg/kie"
)

type serviceFixture struct {
	store    *memStore
	remote   *fakeRemote
	ledger   *fakeLedger
	notifier *fakeNotifier
	svc      *Service
}

func newServiceFixture(balance int) *serviceFixture {
	f := &serviceFixture{
		store:    newMemStore(),
		remote:   &fakeRemote{configured: true, nextID: "kie-1", status: kie.Status{State: kie.StateWaiting}},
		ledger:   &fakeLedger{balance: balance},
		notifier: &fakeNotifier{},
	}
	rec := NewReconciler(f.store, f.remote, &fakeSaver{}, nil)
	f.svc = NewService(f.store, f.ledger, f.remote, rec, f.notifier, Config{
		CreditsPerGeneration: 20,
		CallbackURL:          "https://api.test/api/callback",
	})
	return f
}

var testInput = GenerateInput{
	UserID:   testUser,
	ImageURL: "https://img.test/pet.png",
	Prompt:   "a festive portrait",
	Style:    "christmas",
}

func TestGenerateInsufficientCredits(t *testing.T) {
	f := newServiceFixture(15)

	_, err := f.svc.Generate(context.Background(), testInput)

	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Required != 20 || insufficient.Current != 15 {
		t.Fatalf("unexpected payload %+v", insufficient)
	}
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatal("expected ErrInsufficientCredits in chain")
	}
	if f.ledger.balance != 15 || len(f.remote.created) != 0 {
		t.Fatal("insufficient balance must not debit or submit")
	}
}

func TestGenerateDebitsAndCreatesPendingTask(t *testing.T) {
	f := newServiceFixture(20)

	out, err := f.svc.Generate(context.Background(), testInput)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.RemoteTaskID != "kie-1" || out.CreditsUsed != 20 {
		t.Fatalf("unexpected result %+v", out)
	}
	if f.ledger.balance != 0 {
		t.Fatalf("expected balance 0, got %d", f.ledger.balance)
	}
	if len(f.ledger.spentRef) != 1 || f.ledger.spentRef[0] != out.TaskID {
		t.Fatal("usage must reference the task id")
	}

	task := f.store.get(out.TaskID)
	if task.Status != StatusPending || task.UserID != testUser || task.Style != "christmas" {
		t.Fatalf("unexpected task %+v", task)
	}
	if got := f.remote.created[0].CallbackURL; got != "https://api.test/api/callback" {
		t.Fatalf("unexpected callback url %q", got)
	}
}

func TestGenerateRefundsWhenSubmitFails(t *testing.T) {
	f := newServiceFixture(20)
	f.remote.createErr = errBoom

	_, err := f.svc.Generate(context.Background(), testInput)
	if !errors.Is(err, ErrProviderSubmit) {
		t.Fatalf("expected ErrProviderSubmit, got %v", err)
	}
	if f.ledger.balance != 20 || len(f.ledger.refunds) != 1 {
		t.Fatalf("expected refund, balance=%d refunds=%v", f.ledger.balance, f.ledger.refunds)
	}
	if len(f.store.tasks) != 0 {
		t.Fatal("failed submission must not leave a task row")
	}
}

func TestGenerateRefundsWhenTaskCannotBeSaved(t *testing.T) {
	f := newServiceFixture(20)
	f.store.createErr = errBoom

	if _, err := f.svc.Generate(context.Background(), testInput); err == nil {
		t.Fatal("expected error")
	}
	if f.ledger.balance != 20 {
		t.Fatalf("expected refund, balance=%d", f.ledger.balance)
	}
}

func TestGenerateWithoutProviderDoesNotDebit(t *testing.T) {
	f := newServiceFixture(20)
	f.remote.configured = false

	_, err := f.svc.Generate(context.Background(), testInput)
	if !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
	if f.ledger.balance != 20 {
		t.Fatal("credits must not be debited")
	}
}

func TestGetStatusOwnership(t *testing.T) {
	f := newServiceFixture(0)
	f.store.put(pendingTask("11111111-1111-1111-1111-111111111111", "kie-1"))

	if _, err := f.svc.GetStatus(context.Background(), "user-b", "11111111-1111-1111-1111-111111111111"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if f.remote.queryCount() != 0 {
		t.Fatal("foreign task must not be reconciled")
	}
	if _, err := f.svc.GetStatus(context.Background(), testUser, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestGetStatusProviderErrorReturnsStoredTask(t *testing.T) {
	f := newServiceFixture(0)
	f.store.put(pendingTask("t1", "kie-1"))
	f.remote.statusErr = errBoom

	got, err := f.svc.GetStatus(context.Background(), testUser, "t1")
	if err != nil {
		t.Fatalf("expected stored task, got %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestHandleCallbackUnknownTaskNotifiesWorker(t *testing.T) {
	f := newServiceFixture(0)

	err := f.svc.HandleCallback(context.Background(), &kie.Callback{Code: 200, Status: kie.Status{TaskID: "ghost", State: kie.StateSuccess}})
	if err != nil {
		t.Fatalf("unknown task must be discarded, got %v", err)
	}
	if len(f.notifier.ids) != 1 || f.notifier.ids[0] != "ghost" {
		t.Fatalf("expected wake-up for ghost, got %v", f.notifier.ids)
	}
	if len(f.store.tasks) != 0 {
		t.Fatal("no data may be mutated")
	}
}
