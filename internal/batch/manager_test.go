package batch

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"orderdocs/internal/document"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManagerWithOptions(Options{
		DataDir:              t.TempDir(),
		OrderIDPrefix:        "ORD",
		MaxBatchSize:         5,
		MaxConcurrentBatches: 1,
		BatchDeadline:        2 * time.Second,
	})
}

func okRunner(result *BatchResult, docs []*document.OrderDocument) RunFunc {
	return func(ctx context.Context, orderIDs []string) (*BatchResult, []*document.OrderDocument, error) {
		return result, docs, nil
	}
}

func noopArchiver(destZipPath string, docs []*document.OrderDocument) error {
	f, err := os.Create(destZipPath) //nolint:gosec // test temp dir
	if err != nil {
		return err
	}
	return f.Close()
}

func waitForTerminal(t *testing.T, m *Manager, id string) *Batch {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := m.GetBatch(id); ok {
			if got.Status == StatusReady || got.Status == StatusFailed {
				return got
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for batch %s to finish", id)
	return nil
}

func TestSubmitRejectsOversizedBatchBeforeWork(t *testing.T) {
	m := newTestManager(t)
	ran := false
	m.UseRunner(func(ctx context.Context, orderIDs []string) (*BatchResult, []*document.OrderDocument, error) {
		ran = true
		return &BatchResult{}, nil, nil
	})

	_, err := m.Submit([]string{"ORD1", "ORD2", "ORD3", "ORD4", "ORD5", "ORD6"}, 0)
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	if ran {
		t.Fatalf("oversized batch must not start any work")
	}
}

func TestSubmitRejectsEmptyAndInvalid(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Submit(nil, 0); !errors.Is(err, ErrNoOrderIDs) {
		t.Fatalf("expected ErrNoOrderIDs, got %v", err)
	}
	if _, err := m.Submit([]string{"nope"}, 0); err == nil {
		t.Fatalf("expected invalid id error")
	}
}

func TestSubmitProcessesToReady(t *testing.T) {
	m := newTestManager(t)
	result := &BatchResult{
		Entries:   []Entry{{OrderID: "ORD1", Succeeded: true, ArchiveEntry: "ORD1.pdf"}},
		Succeeded: 1,
	}
	m.UseRunner(okRunner(result, []*document.OrderDocument{{OrderID: "ORD1", Bytes: []byte("%PDF")}}))
	m.UseArchiver(noopArchiver)

	submitted, err := m.Submit([]string{"ORD1"}, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitForTerminal(t, m, submitted.ID)
	if got.Status != StatusReady {
		t.Fatalf("expected ready, got %s", got.Status)
	}
	if got.ArchivePath == "" {
		t.Fatalf("expected archive path set")
	}
	if got.Result == nil || got.Result.Succeeded != 1 {
		t.Fatalf("expected ledger attached, got %+v", got.Result)
	}
	if _, err := os.Stat(m.LedgerPath(submitted.ID)); err != nil {
		t.Fatalf("ledger not persisted: %v", err)
	}
}

func TestSubmitAllOrdersFailedMarksBatchFailed(t *testing.T) {
	m := newTestManager(t)
	result := &BatchResult{
		Entries: []Entry{{OrderID: "ORD1", Reason: ReasonOrderNotFound}},
		Failed:  1,
	}
	m.UseRunner(okRunner(result, nil))
	m.UseArchiver(noopArchiver)

	submitted, err := m.Submit([]string{"ORD1"}, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitForTerminal(t, m, submitted.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Result == nil || got.Result.Failed != 1 {
		t.Fatalf("ledger must be attached even when all orders fail: %+v", got.Result)
	}
}

func TestIsBusyWhileProcessing(t *testing.T) {
	m := newTestManager(t)
	blocker := make(chan struct{})
	m.UseRunner(func(ctx context.Context, orderIDs []string) (*BatchResult, []*document.OrderDocument, error) {
		<-blocker
		return &BatchResult{}, nil, nil
	})
	m.UseArchiver(noopArchiver)

	if _, err := m.Submit([]string{"ORD1"}, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !m.IsBusy() {
		t.Fatalf("expected manager to be busy while processing")
	}
	close(blocker)

	if ok := m.WaitAll(context.Background()); !ok {
		t.Fatalf("expected workers to finish")
	}
}

func TestGetBatchSnapshotDuringProcessing(t *testing.T) {
	m := newTestManager(t)
	release := make(chan struct{})
	m.UseRunner(func(ctx context.Context, orderIDs []string) (*BatchResult, []*document.OrderDocument, error) {
		<-release
		return &BatchResult{
			Entries:   []Entry{{OrderID: "ORD1", Succeeded: true, ArchiveEntry: "ORD1.pdf"}},
			Succeeded: 1,
		}, nil, nil
	})
	m.UseArchiver(noopArchiver)

	submitted, err := m.Submit([]string{"ORD1"}, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// hammer GetBatch from another goroutine while the worker transitions
	// the batch through in_progress to its terminal state
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if got, ok := m.GetBatch(submitted.ID); ok {
				_ = got.Status
				_ = got.ArchivePath
				if got.Result != nil {
					_ = got.Result.Succeeded
				}
			}
		}
	}()

	close(release)
	got := waitForTerminal(t, m, submitted.ID)
	close(stop)
	wg.Wait()

	if got.Status != StatusReady {
		t.Fatalf("expected ready, got %s", got.Status)
	}

	// mutating the returned snapshot must not leak into manager state
	got.Status = StatusFailed
	got.ArchivePath = "tampered"
	again, ok := m.GetBatch(submitted.ID)
	if !ok {
		t.Fatalf("batch disappeared")
	}
	if again.Status != StatusReady || again.ArchivePath == "tampered" {
		t.Fatalf("snapshot mutation leaked into manager state: %+v", again)
	}
}

func TestSubmitRejectsWhenAllSlotsTaken(t *testing.T) {
	m := newTestManager(t)
	blocker := make(chan struct{})
	m.UseRunner(func(ctx context.Context, orderIDs []string) (*BatchResult, []*document.OrderDocument, error) {
		<-blocker
		return &BatchResult{}, nil, nil
	})
	m.UseArchiver(noopArchiver)

	if _, err := m.Submit([]string{"ORD1"}, 0); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// the single slot is held; a second submit must fail fast, not block
	done := make(chan error, 1)
	go func() {
		_, err := m.Submit([]string{"ORD2"}, 0)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrBusy) {
			t.Fatalf("expected ErrBusy, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("submit blocked instead of rejecting")
	}

	close(blocker)
	if ok := m.WaitAll(context.Background()); !ok {
		t.Fatalf("expected workers to finish")
	}
}

func TestDeadlineClampedToConfiguredMaximum(t *testing.T) {
	m := newTestManager(t)
	var gotDeadline time.Duration
	ready := make(chan struct{})
	m.UseRunner(func(ctx context.Context, orderIDs []string) (*BatchResult, []*document.OrderDocument, error) {
		if dl, ok := ctx.Deadline(); ok {
			gotDeadline = time.Until(dl)
		}
		close(ready)
		return &BatchResult{}, nil, nil
	})
	m.UseArchiver(noopArchiver)

	if _, err := m.Submit([]string{"ORD1"}, time.Hour); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("runner never invoked")
	}
	if gotDeadline > 2*time.Second {
		t.Fatalf("deadline %v exceeds configured maximum", gotDeadline)
	}
	_ = m.WaitAll(context.Background())
}

func TestPersistAndLoadFromDisk(t *testing.T) {
	dataDir := t.TempDir()
	m := NewManagerWithOptions(Options{DataDir: dataDir, MaxConcurrentBatches: 1})

	b1 := &Batch{ID: "b1", Status: StatusInProgress, CreatedAt: time.Now(), OrderIDs: []string{"ORD1"}}
	b2 := &Batch{ID: "b2", Status: StatusReady, CreatedAt: time.Now(), OrderIDs: []string{"ORD2"}}
	if err := m.persistBatch(b1); err != nil {
		t.Fatalf("persist b1: %v", err)
	}
	if err := m.persistBatch(b2); err != nil {
		t.Fatalf("persist b2: %v", err)
	}

	m2 := NewManagerWithOptions(Options{DataDir: dataDir, MaxConcurrentBatches: 1})
	if err := m2.LoadFromDisk(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, ok := m2.GetBatch("b1"); !ok || got.Status != StatusFailed {
		t.Fatalf("expected b1 failed after reload, got %+v ok=%v", got, ok)
	}
	if got, ok := m2.GetBatch("b2"); !ok || got.Status != StatusReady {
		t.Fatalf("expected b2 ready after reload, got %+v ok=%v", got, ok)
	}
}
