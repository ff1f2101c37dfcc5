package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pawtrait/pawtrait-api/internal/pkg/kie"
)

func newTestReconciler(store *memStore, remote *fakeRemote, saver *fakeSaver) *Reconciler {
	return NewReconciler(store, remote, saver, nil)
}

func TestPollWaitingMovesPendingToProcessingOnce(t *testing.T) {
	store := newMemStore()
	task := store.put(pendingTask("t1", "kie-1"))
	remote := &fakeRemote{status: kie.Status{State: kie.StateWaiting}}
	rec := newTestReconciler(store, remote, &fakeSaver{})

	got, err := rec.Poll(context.Background(), task)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got.Status != StatusProcessing {
		t.Fatalf("expected processing, got %s", got.Status)
	}

	got, err = rec.Poll(context.Background(), got)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if got.Status != StatusProcessing || got.CompletedAt != nil {
		t.Fatalf("unexpected second poll result %+v", got)
	}
}

func TestPollSuccessMaterializesThenServesCachedResult(t *testing.T) {
	store := newMemStore()
	task := store.put(pendingTask("t1", "kie-1"))
	remote := &fakeRemote{status: kie.Status{State: kie.StateSuccess, ResultURL: "https://kie.test/out.png"}}
	saver := &fakeSaver{}
	rec := newTestReconciler(store, remote, saver)

	got, err := rec.Poll(context.Background(), task)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got.Status != StatusSuccess || got.ResultImageURL.String != "https://cdn.test/generated/1.png" {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.KieResultURL.String != "https://kie.test/out.png" {
		t.Fatalf("expected provider url to be kept, got %q", got.KieResultURL.String)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completedAt")
	}

	again, err := rec.Poll(context.Background(), got)
	if err != nil {
		t.Fatalf("repeat poll: %v", err)
	}
	if remote.queryCount() != 1 {
		t.Fatalf("terminal task must not query the provider, got %d queries", remote.queryCount())
	}
	if !again.CompletedAt.Equal(*got.CompletedAt) || again.ResultImageURL != got.ResultImageURL {
		t.Fatal("terminal payload changed")
	}
}

func TestPollFailureUsesDefaultMessage(t *testing.T) {
	store := newMemStore()
	task := store.put(pendingTask("t1", "kie-1"))
	rec := newTestReconciler(store, &fakeRemote{status: kie.Status{State: kie.StateFail}}, &fakeSaver{})

	got, err := rec.Poll(context.Background(), task)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorMessage.String != MsgGenerationFailed {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestMaterializeFailureMarksTaskFailed(t *testing.T) {
	store := newMemStore()
	task := store.put(pendingTask("t1", "kie-1"))
	remote := &fakeRemote{status: kie.Status{State: kie.StateSuccess, ResultURL: "https://kie.test/out.png"}}
	rec := newTestReconciler(store, remote, &fakeSaver{err: ErrMaterialize})

	got, err := rec.Poll(context.Background(), task)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorMessage.String != MsgSaveFailed {
		t.Fatalf("expected failed with save message, got %+v", got)
	}
	if got.ResultImageURL.Valid {
		t.Fatal("failed task must not carry a result")
	}
}

func TestPollProviderErrorKeepsTask(t *testing.T) {
	store := newMemStore()
	task := store.put(pendingTask("t1", "kie-1"))
	rec := newTestReconciler(store, &fakeRemote{statusErr: errBoom}, &fakeSaver{})

	got, err := rec.Poll(context.Background(), task)
	if !errors.Is(err, ErrProviderQuery) {
		t.Fatalf("expected ErrProviderQuery, got %v", err)
	}
	if got.Status != StatusPending || store.get("t1").Status != StatusPending {
		t.Fatal("provider error must not change the task")
	}
}

func TestPollAndCallbackCompleteOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		store := newMemStore()
		task := store.put(pendingTask("t1", "kie-1"))
		success := kie.Status{TaskID: "kie-1", State: kie.StateSuccess, ResultURL: "https://kie.test/out.png"}
		saver := &fakeSaver{delay: 5 * time.Millisecond}
		rec := newTestReconciler(store, &fakeRemote{status: success}, saver)

		var wg sync.WaitGroup
		results := make([]*Task, 2)
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			results[0], errs[0] = rec.Poll(context.Background(), task)
		}()
		go func() {
			defer wg.Done()
			results[1], errs[1] = rec.HandleCallback(context.Background(), success)
		}()
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				t.Fatalf("reconcile: %v", err)
			}
		}
		if store.successes != 1 {
			t.Fatalf("expected exactly one success write, got %d", store.successes)
		}
		final := store.get("t1")
		for _, r := range results {
			if r.ResultImageURL != final.ResultImageURL || !r.CompletedAt.Equal(*final.CompletedAt) {
				t.Fatalf("both paths must observe the winning row")
			}
		}
		if saver.saved-len(saver.discarded) != 1 {
			t.Fatalf("expected losing uploads to be discarded, saved=%d discarded=%d", saver.saved, len(saver.discarded))
		}
	}
}

func TestCallbackAfterSuccessIsNoop(t *testing.T) {
	store := newMemStore()
	store.put(pendingTask("t1", "kie-1"))
	saver := &fakeSaver{}
	rec := newTestReconciler(store, &fakeRemote{}, saver)

	success := kie.Status{TaskID: "kie-1", State: kie.StateSuccess, ResultURL: "https://kie.test/out.png"}
	first, err := rec.HandleCallback(context.Background(), success)
	if err != nil {
		t.Fatalf("first callback: %v", err)
	}

	fail := kie.Status{TaskID: "kie-1", State: kie.StateFail, ErrorMessage: "late failure"}
	second, err := rec.HandleCallback(context.Background(), fail)
	if err != nil {
		t.Fatalf("second callback: %v", err)
	}
	if second.Status != StatusSuccess || !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("terminal task changed: %+v", second)
	}
	if saver.saved != 1 || store.successes != 1 {
		t.Fatalf("expected a single materialization, saved=%d", saver.saved)
	}
}

func TestCallbackUnknownTask(t *testing.T) {
	rec := newTestReconciler(newMemStore(), &fakeRemote{}, &fakeSaver{})

	_, err := rec.HandleCallback(context.Background(), kie.Status{TaskID: "missing", State: kie.StateSuccess, ResultURL: "https://kie.test/x.png"})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestLockHeldElsewhereReturnsCurrentRow(t *testing.T) {
	store := newMemStore()
	task := store.put(pendingTask("t1", "kie-1"))
	saver := &fakeSaver{}
	rec := NewReconciler(store, &fakeRemote{status: kie.Status{State: kie.StateSuccess, ResultURL: "https://kie.test/out.png"}}, saver, denyLocker{})

	got, err := rec.Poll(context.Background(), task)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got.Status != StatusPending || saver.saved != 0 {
		t.Fatalf("expected untouched task without upload, got %s saved=%d", got.Status, saver.saved)
	}
}

func TestReconcileOpenAndExpireStale(t *testing.T) {
	store := newMemStore()
	store.put(pendingTask("t1", "kie-1"))
	old := pendingTask("t2", "kie-2")
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	store.put(old)

	rec := newTestReconciler(store, &fakeRemote{status: kie.Status{State: kie.StateWaiting}}, &fakeSaver{})

	finished, err := rec.ReconcileOpen(context.Background(), 10)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if finished != 0 || store.get("t1").Status != StatusProcessing {
		t.Fatalf("expected waiting tasks to move to processing, finished=%d", finished)
	}

	ids, err := rec.ExpireStale(context.Background(), time.Hour, time.Now())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(ids) != 1 || ids[0] != "t2" {
		t.Fatalf("expected t2 to expire, got %v", ids)
	}
	if got := store.get("t2"); got.Status != StatusFailed || got.ErrorMessage.String != MsgTimedOut {
		t.Fatalf("unexpected expired task %+v", got)
	}
	if store.get("t1").Status.Terminal() {
		t.Fatal("fresh task must stay open")
	}

	if ids, _ := rec.ExpireStale(context.Background(), 0, time.Now()); ids != nil {
		t.Fatal("zero max age must disable expiry")
	}
}
