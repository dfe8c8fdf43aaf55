package batch

import (
	"context"
	"fmt"
)

// LoadFromDisk scans persisted batches into memory. A batch left in
// StatusInProgress by a previous run can no longer complete and is marked
// failed.
func (m *Manager) LoadFromDisk() error {
	if m.store == nil {
		return nil
	}
	loaded, err := m.store.LoadBatches(context.Background())
	if err != nil {
		return fmt.Errorf("load batches: %w", err)
	}
	for _, batchEntity := range loaded {
		if batchEntity.Status == StatusCreated || batchEntity.Status == StatusInProgress {
			batchEntity.Status = StatusFailed
			_ = m.persistBatch(batchEntity)
		}
		m.mu.Lock()
		m.batches[batchEntity.ID] = batchEntity
		m.mu.Unlock()
	}
	return nil
}
