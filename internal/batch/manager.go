package batch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"orderdocs/internal/archive"
	"orderdocs/internal/document"
	fileutil "orderdocs/internal/file"
)

// RunFunc executes the pipeline for a deduplicated set of order identifiers.
type RunFunc func(ctx context.Context, orderIDs []string) (*BatchResult, []*document.OrderDocument, error)

// ArchiveFunc packages the succeeded documents into a zip at destZipPath.
type ArchiveFunc func(destZipPath string, docs []*document.OrderDocument) error

// Manager provides an in-memory store for batches and background processing.
type Manager struct {
	mu           sync.RWMutex
	batches      map[string]*Batch
	opts         Options
	orchestrator *Orchestrator
	run          RunFunc
	buildArchive ArchiveFunc
	semaphore    chan struct{}
	workersWG    sync.WaitGroup
	baseCtx      context.Context
	store        BatchStore
}

// NewManager creates a manager with defaults suitable for tests. The runner
// must be injected via UseRunner before submitting batches.
func NewManager() *Manager {
	return NewManagerWithOptions(Options{DataDir: "data"})
}

// NewManagerWithOptions creates a manager with the provided configuration.
func NewManagerWithOptions(opts Options) *Manager {
	if opts.MaxBatchSize < 1 {
		opts.MaxBatchSize = defaultMaxBatchSize
	}
	if opts.MaxConcurrentBatches < 1 {
		opts.MaxConcurrentBatches = defaultMaxConcurrentBatches
	}
	if opts.BatchDeadline <= 0 {
		opts.BatchDeadline = defaultBatchDeadline
	}
	orchestrator := NewOrchestrator(opts)
	m := &Manager{
		batches:      make(map[string]*Batch),
		opts:         opts,
		orchestrator: orchestrator,
		run:          orchestrator.Run,
		buildArchive: archive.Build,
		semaphore:    make(chan struct{}, opts.MaxConcurrentBatches),
		baseCtx:      context.Background(),
		store:        NewFileStore(opts.DataDir),
	}
	return m
}

// IsBusy reports whether the system is at max concurrent batch processing.
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// Submit validates the request, creates a batch and starts background
// processing. Size-cap and pattern violations reject the whole request here,
// before any work or network call happens. Returns ErrBusy without creating a
// batch when every processing slot is taken. The deadline is clamped to the
// configured maximum; zero means the configured default.
func (m *Manager) Submit(orderIDs []string, deadline time.Duration) (*Batch, error) {
	deduped, err := NormalizeRequest(orderIDs, m.opts.MaxBatchSize, m.orchestrator.idPattern)
	if err != nil {
		return nil, err
	}

	if deadline <= 0 || deadline > m.opts.BatchDeadline {
		deadline = m.opts.BatchDeadline
	}

	select {
	case m.semaphore <- struct{}{}:
	default:
		return nil, ErrBusy
	}

	newBatch := &Batch{
		ID:        uuid.NewString(),
		Status:    StatusCreated,
		CreatedAt: time.Now(),
		OrderIDs:  deduped,
	}

	m.mu.Lock()
	m.batches[newBatch.ID] = newBatch
	m.mu.Unlock()

	if err := m.persistBatch(newBatch); err != nil { // best-effort
		log.Warn().Str("batch_id", newBatch.ID).Err(err).Msg("persist batch failed")
	}

	// snapshot before the worker starts mutating the stored entity
	accepted := *newBatch

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer func() { <-m.semaphore }()
		m.process(newBatch, deadline)
	}()

	return &accepted, nil
}

// GetBatch returns a snapshot of a batch by ID. The copy is taken under the
// lock so callers never observe fields mid-mutation; OrderIDs and Result are
// never modified after being set, so sharing them is safe.
func (m *Manager) GetBatch(batchID string) (*Batch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	foundBatch, ok := m.batches[batchID]
	if !ok {
		return nil, false
	}
	snapshot := *foundBatch
	return &snapshot, true
}

// SetBaseContext sets the base context controlling long-running batch work.
// Intended to be set at process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all in-flight batch workers finish or the context is
// done. Returns true if all workers finished.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// UseRunner allows tests to inject a fake pipeline runner.
// Intended for test setup only, before batches are submitted.
func (m *Manager) UseRunner(run RunFunc) {
	m.mu.Lock()
	m.run = run
	m.mu.Unlock()
}

// UseArchiver allows tests to inject a fake archive builder.
func (m *Manager) UseArchiver(build ArchiveFunc) {
	m.mu.Lock()
	m.buildArchive = build
	m.mu.Unlock()
}

func (m *Manager) persistBatch(batchEntity *Batch) error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveBatch(context.Background(), batchEntity) //nolint:wrapcheck
}

// LedgerPath returns the path of the persisted ledger for a batch.
func (m *Manager) LedgerPath(batchID string) string {
	return filepath.Join(m.opts.DataDir, "batches", batchID, "ledger.json")
}

// process runs one submitted batch to completion under its deadline.
func (m *Manager) process(batchEntity *Batch, deadline time.Duration) {
	m.mu.Lock()
	batchEntity.Status = StatusInProgress
	baseCtx := m.baseCtx
	runBatch := m.run
	buildArchive := m.buildArchive
	m.mu.Unlock()
	if err := m.persistBatch(batchEntity); err != nil {
		log.Warn().Str("batch_id", batchEntity.ID).Err(err).Msg("persist in_progress failed")
	}

	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithTimeout(baseCtx, deadline)
	defer cancel()

	log.Info().Str("batch_id", batchEntity.ID).Int("orders", len(batchEntity.OrderIDs)).
		Dur("deadline", deadline).Msg("batch processing started")

	result, docs, err := runBatch(ctx, batchEntity.OrderIDs)
	if err != nil {
		m.failBatch(batchEntity, err.Error())
		return
	}

	destZipPath := m.store.ArchivePath(batchEntity.ID)
	if err := buildArchive(destZipPath, docs); err != nil {
		log.Error().Str("batch_id", batchEntity.ID).Err(err).Msg("archive build failed")
		m.failBatch(batchEntity, "archive build failed: "+err.Error())
		return
	}

	if err := fileutil.WriteJSONAtomic(m.LedgerPath(batchEntity.ID), result); err != nil {
		log.Warn().Str("batch_id", batchEntity.ID).Err(err).Msg("persist ledger failed")
	}

	m.mu.Lock()
	batchEntity.Result = result
	if result.Succeeded > 0 {
		batchEntity.Status = StatusReady
		batchEntity.ArchivePath = destZipPath
	} else {
		batchEntity.Status = StatusFailed
		batchEntity.ArchivePath = destZipPath
	}
	m.mu.Unlock()
	if err := m.persistBatch(batchEntity); err != nil {
		log.Warn().Str("batch_id", batchEntity.ID).Err(err).Msg("persist final state failed")
	}
}

func (m *Manager) failBatch(batchEntity *Batch, msg string) {
	m.mu.Lock()
	batchEntity.Status = StatusFailed
	if batchEntity.Result == nil {
		batchEntity.Result = &BatchResult{}
	}
	m.mu.Unlock()
	log.Warn().Str("batch_id", batchEntity.ID).Str("error", msg).Msg("batch failed")
	if err := m.persistBatch(batchEntity); err != nil {
		log.Warn().Str("batch_id", batchEntity.ID).Err(err).Msg("persist failed state failed")
	}
}
