package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	fileutil "orderdocs/internal/file"
)

// BatchStore abstracts persistence for batches and archive destination
// resolution. The default implementation is file-based; the interface allows
// plugging a DB-backed store later.
type BatchStore interface {
	SaveBatch(ctx context.Context, b *Batch) error
	LoadBatches(ctx context.Context) ([]*Batch, error)
	EnsureBatchDir(ctx context.Context, batchID string) (string, error)
	ArchivePath(batchID string) string
}

// fileStore implements BatchStore using the local filesystem under dataDir.
type fileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) BatchStore { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileStore{dataDir: dataDir}
}

func (s *fileStore) batchDir(batchID string) string {
	return filepath.Join(s.dataDir, "batches", batchID)
}

func (s *fileStore) statusPath(batchID string) string {
	return filepath.Join(s.batchDir(batchID), "status.json")
}

func (s *fileStore) ArchivePath(batchID string) string {
	return filepath.Join(s.batchDir(batchID), "archive.zip")
}

func (s *fileStore) EnsureBatchDir(ctx context.Context, batchID string) (string, error) { //nolint:revive // context reserved for future use
	dir := s.batchDir(batchID)
	if err := fileutil.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("ensure batch dir: %w", err)
	}
	return dir, nil
}

func (s *fileStore) SaveBatch(ctx context.Context, b *Batch) error { //nolint:revive // context reserved for future use
	if _, err := s.EnsureBatchDir(ctx, b.ID); err != nil {
		return err
	}
	return fileutil.WriteJSONAtomic(s.statusPath(b.ID), b) //nolint:wrapcheck
}

func (s *fileStore) LoadBatches(ctx context.Context) ([]*Batch, error) { //nolint:revive // context reserved for future use
	root := filepath.Join(s.dataDir, "batches")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	batches := make([]*Batch, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(s.statusPath(e.Name())) //nolint:gosec // path is controlled by application
		if err != nil {
			continue
		}
		var b Batch
		if err := json.Unmarshal(raw, &b); err != nil {
			continue
		}
		loaded := b
		batches = append(batches, &loaded)
	}
	return batches, nil
}
