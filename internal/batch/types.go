package batch

import (
	"context"
	"time"

	"orderdocs/internal/orderapi"
)

// ItemState tracks one order's progress through the pipeline.
// Pending -> Fetching -> Normalizing -> Assembling -> Succeeded | Failed.
// Terminal states are Succeeded and Failed; an item never re-enters Pending.
type ItemState string

const (
	StatePending     ItemState = "pending"
	StateFetching    ItemState = "fetching"
	StateNormalizing ItemState = "normalizing"
	StateAssembling  ItemState = "assembling"
	StateSucceeded   ItemState = "succeeded"
	StateFailed      ItemState = "failed"
)

// FailureReason enumerates the terminal failure kinds recorded in the ledger.
type FailureReason string

const (
	ReasonBatchTooLarge         FailureReason = "batch_too_large"
	ReasonOrderNotFound         FailureReason = "order_not_found"
	ReasonUpstreamError         FailureReason = "upstream_error"
	ReasonAttachmentUnavailable FailureReason = "attachment_unavailable"
	ReasonAttachmentTooLarge    FailureReason = "attachment_too_large"
	ReasonUnsupportedFormat     FailureReason = "unsupported_format"
	ReasonDecodeError           FailureReason = "decode_error"
	ReasonNoUsableAssets        FailureReason = "no_usable_assets"
	ReasonAssemblyError         FailureReason = "assembly_error"
	ReasonDeadlineExceeded      FailureReason = "deadline_exceeded"
)

// OrderWorkItem is the per-order unit of work. It is owned exclusively by the
// worker processing it for the duration of the batch.
type OrderWorkItem struct {
	OrderID  string
	Position int
	State    ItemState
}

// Entry is the ledger record for one requested order identifier.
type Entry struct {
	OrderID      string        `json:"order_id"`
	Succeeded    bool          `json:"succeeded"`
	Reason       FailureReason `json:"reason,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	ElapsedMs    int64         `json:"elapsed_ms"`
	ArchiveEntry string        `json:"archive_entry,omitempty"`
}

// BatchResult is the final ledger: one entry per deduplicated requested
// identifier in first-seen order, plus aggregate counts.
type BatchResult struct {
	Entries   []Entry `json:"entries"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	ElapsedMs int64   `json:"elapsed_ms"`
}

// Status is the service-level lifecycle of a submitted batch.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Batch is the persisted record of one submitted batch request.
type Batch struct {
	ID          string       `json:"id"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	OrderIDs    []string     `json:"order_ids"`
	Result      *BatchResult `json:"result,omitempty"`
	ArchivePath string       `json:"archive_path,omitempty"`
}

// OrderClient is the slice of the order-data API the pipeline consumes.
type OrderClient interface {
	GetOrder(ctx context.Context, orderID string) (orderapi.Order, error)
	GetAttachment(ctx context.Context, ref orderapi.AttachmentRef) (orderapi.Attachment, error)
}

// Options configures the manager and its orchestrator. Zero values fall back
// to conservative defaults; limits are tunables, never hard-coded downstream.
type Options struct {
	DataDir               string
	Client                OrderClient
	OrderIDPrefix         string
	MaxBatchSize          int
	WorkerPoolSize        int
	AttachmentConcurrency int
	MaxConcurrentBatches  int
	BatchDeadline         time.Duration
	GracePeriod           time.Duration
	RetryMaxAttempts      int
	RetryBaseDelay        time.Duration
	RetryMaxDelay         time.Duration
	AssetByteBudget       int
	JPEGQuality           int
	MaxDimension          int
}

const (
	defaultMaxBatchSize          = 50
	defaultWorkerPoolSize        = 4
	defaultAttachmentConcurrency = 2
	defaultMaxConcurrentBatches  = 3
	defaultBatchDeadline         = 5 * time.Minute
	defaultGracePeriod           = 10 * time.Second
)
