package batch

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"orderdocs/internal/archive"
	"orderdocs/internal/asset"
	"orderdocs/internal/document"
	"orderdocs/internal/orderapi"
	"orderdocs/internal/retry"
)

// Orchestrator fans a batch of order identifiers out over a bounded worker
// pool and collects a per-order ledger. One order's failure never aborts its
// siblings; only a request-level violation (cap, pattern) fails the call.
type Orchestrator struct {
	client                OrderClient
	retryPolicy           retry.Policy
	normalizer            asset.Normalizer
	assembler             document.Assembler
	idPattern             *regexp.Regexp
	maxBatchSize          int
	workerPoolSize        int
	attachmentConcurrency int
	gracePeriod           time.Duration
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.MaxBatchSize < 1 {
		opts.MaxBatchSize = defaultMaxBatchSize
	}
	if opts.WorkerPoolSize < 1 {
		opts.WorkerPoolSize = defaultWorkerPoolSize
	}
	if opts.AttachmentConcurrency < 1 {
		opts.AttachmentConcurrency = defaultAttachmentConcurrency
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	if opts.RetryMaxAttempts < 1 {
		opts.RetryMaxAttempts = 3
	}
	var pattern *regexp.Regexp
	if opts.OrderIDPrefix != "" {
		pattern = IDPattern(opts.OrderIDPrefix)
	}
	return &Orchestrator{
		client: opts.Client,
		retryPolicy: retry.Policy{
			MaxAttempts: opts.RetryMaxAttempts,
			BaseDelay:   opts.RetryBaseDelay,
			MaxDelay:    opts.RetryMaxDelay,
			Classify:    orderapi.IsTransient,
		},
		normalizer: asset.Normalizer{
			ByteBudget:   opts.AssetByteBudget,
			JPEGQuality:  opts.JPEGQuality,
			MaxDimension: opts.MaxDimension,
		},
		assembler:             document.Assembler{},
		idPattern:             pattern,
		maxBatchSize:          opts.MaxBatchSize,
		workerPoolSize:        opts.WorkerPoolSize,
		attachmentConcurrency: opts.AttachmentConcurrency,
		gracePeriod:           opts.GracePeriod,
	}
}

// Run processes the requested identifiers and returns the ledger plus the
// documents of every succeeded order, in first-seen request order. The ctx
// deadline bounds the batch; after expiry in-flight workers get the grace
// period before their items are marked deadline_exceeded. Run itself returns
// an error only for request-level violations.
func (o *Orchestrator) Run(ctx context.Context, orderIDs []string) (*BatchResult, []*document.OrderDocument, error) {
	ids, err := NormalizeRequest(orderIDs, o.maxBatchSize, o.idPattern)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	col := newCollector(ids)
	sem := make(chan struct{}, o.workerPoolSize)
	var wg sync.WaitGroup

	for pos, id := range ids {
		wg.Add(1)
		go func(pos int, id string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// deadline hit before this item was dispatched
				col.record(pos, Entry{
					OrderID: id,
					Reason:  ReasonDeadlineExceeded,
					Detail:  ctx.Err().Error(),
				}, nil)
				return
			}
			defer func() { <-sem }()
			doc, entry := o.processOrder(ctx, &OrderWorkItem{OrderID: id, Position: pos, State: StatePending})
			col.record(pos, entry, doc)
		}(pos, id)
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
	case <-ctx.Done():
		graceTimer := time.NewTimer(o.gracePeriod)
		defer graceTimer.Stop()
		select {
		case <-workersDone:
		case <-graceTimer.C:
			log.Warn().Dur("grace", o.gracePeriod).Msg("grace period expired with workers still in flight")
		}
	}

	result, docs := col.finalize(time.Since(start))
	log.Info().
		Int("requested", len(ids)).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int64("elapsed_ms", result.ElapsedMs).
		Msg("batch finished")
	return result, docs, nil
}

// processOrder runs the fetch -> download -> normalize -> assemble pipeline
// for a single order. The returned entry is terminal.
func (o *Orchestrator) processOrder(ctx context.Context, item *OrderWorkItem) (*document.OrderDocument, Entry) {
	start := time.Now()
	log.Info().Str("order_id", item.OrderID).Int("position", item.Position).Msg("order processing started")

	item.State = StateFetching
	var order orderapi.Order
	err := o.retryPolicy.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		order, fetchErr = o.client.GetOrder(ctx, item.OrderID)
		return fetchErr
	})
	if err != nil {
		return nil, o.failItem(item, start, reasonForError(err), err)
	}

	attachments, firstDownloadErr := o.downloadAttachments(ctx, order.Attachments)
	if ctx.Err() != nil {
		return nil, o.failItem(item, start, ReasonDeadlineExceeded, ctx.Err())
	}

	item.State = StateNormalizing
	assets := make([]asset.Asset, 0, len(attachments))
	var firstNormalizeErr error
	for _, att := range attachments {
		normalized, normErr := o.normalizer.Normalize(att.Ref.ID, att.Data)
		if normErr != nil {
			if firstNormalizeErr == nil {
				firstNormalizeErr = normErr
			}
			log.Warn().Str("order_id", item.OrderID).Str("attachment_id", att.Ref.ID).Err(normErr).Msg("asset normalization failed")
			continue
		}
		if normalized.Recompressed {
			log.Debug().Str("order_id", item.OrderID).Str("attachment_id", normalized.ID).
				Int("source_bytes", normalized.SourceBytes).Int("bytes", len(normalized.Data)).
				Msg("asset recompressed")
		}
		if normalized.OverBudget {
			log.Warn().Str("order_id", item.OrderID).Str("attachment_id", normalized.ID).
				Int("bytes", len(normalized.Data)).Msg("asset still over byte budget after recompression floors")
		}
		assets = append(assets, normalized)
	}

	if len(assets) == 0 {
		// every declared attachment failed retrieval: surface that failure;
		// otherwise the order simply has nothing usable
		if len(attachments) == 0 && firstDownloadErr != nil {
			return nil, o.failItem(item, start, reasonForError(firstDownloadErr), firstDownloadErr)
		}
		cause := firstNormalizeErr
		if cause == nil {
			cause = document.ErrNoUsableAssets
		}
		return nil, o.failItem(item, start, ReasonNoUsableAssets, cause)
	}

	item.State = StateAssembling
	doc, err := o.assembler.Assemble(order, assets)
	if err != nil {
		return nil, o.failItem(item, start, reasonForError(err), err)
	}

	item.State = StateSucceeded
	elapsed := time.Since(start)
	log.Info().Str("order_id", item.OrderID).Dur("elapsed", elapsed).
		Int("assets", len(assets)).Msg("order processing succeeded")
	return doc, Entry{
		OrderID:      item.OrderID,
		Succeeded:    true,
		ElapsedMs:    elapsed.Milliseconds(),
		ArchiveEntry: archive.EntryName(item.OrderID),
	}
}

// downloadAttachments retrieves attachment payloads concurrently, bounded by
// the per-order limit. Individual failures are logged and skipped so one
// broken attachment does not block its siblings; the first failure is
// returned for ledger classification.
func (o *Orchestrator) downloadAttachments(ctx context.Context, refs []orderapi.AttachmentRef) ([]orderapi.Attachment, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	downloaded := make([]*orderapi.Attachment, len(refs))
	downloadErrs := make([]error, len(refs))

	var g errgroup.Group
	g.SetLimit(o.attachmentConcurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			var att orderapi.Attachment
			err := o.retryPolicy.Do(ctx, func(ctx context.Context) error {
				var dlErr error
				att, dlErr = o.client.GetAttachment(ctx, ref)
				return dlErr
			})
			if err != nil {
				downloadErrs[i] = err
				log.Warn().Str("attachment_id", ref.ID).Err(err).Msg("attachment download failed")
				return nil
			}
			downloaded[i] = &att
			return nil
		})
	}
	_ = g.Wait()

	attachments := make([]orderapi.Attachment, 0, len(refs))
	var firstErr error
	for i := range refs {
		if downloaded[i] != nil {
			attachments = append(attachments, *downloaded[i])
		} else if firstErr == nil {
			firstErr = downloadErrs[i]
		}
	}
	return attachments, firstErr
}

func (o *Orchestrator) failItem(item *OrderWorkItem, start time.Time, reason FailureReason, err error) Entry {
	item.State = StateFailed
	elapsed := time.Since(start)
	log.Warn().Str("order_id", item.OrderID).Str("reason", string(reason)).
		Dur("elapsed", elapsed).Err(err).Msg("order processing failed")
	entry := Entry{
		OrderID:   item.OrderID,
		Reason:    reason,
		ElapsedMs: elapsed.Milliseconds(),
	}
	if err != nil {
		entry.Detail = err.Error()
	}
	return entry
}

// reasonForError maps a terminal pipeline error onto its ledger reason.
func reasonForError(err error) FailureReason {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonDeadlineExceeded
	case errors.Is(err, orderapi.ErrOrderNotFound):
		return ReasonOrderNotFound
	case errors.Is(err, orderapi.ErrAttachmentTooLarge):
		return ReasonAttachmentTooLarge
	case errors.Is(err, orderapi.ErrAttachmentUnavailable):
		return ReasonAttachmentUnavailable
	case errors.Is(err, asset.ErrUnsupportedFormat):
		return ReasonUnsupportedFormat
	case errors.Is(err, asset.ErrDecodeError):
		return ReasonDecodeError
	case errors.Is(err, document.ErrNoUsableAssets):
		return ReasonNoUsableAssets
	case errors.Is(err, document.ErrAssembly):
		return ReasonAssemblyError
	default:
		return ReasonUpstreamError
	}
}

// collector is the concurrent-safe ledger the workers append to. Entries stay
// associated with their request position regardless of completion order.
type collector struct {
	mu        sync.Mutex
	entries   []Entry
	docs      []*document.OrderDocument
	done      []bool
	finalized bool
}

func newCollector(ids []string) *collector {
	entries := make([]Entry, len(ids))
	for i, id := range ids {
		entries[i] = Entry{OrderID: id}
	}
	return &collector{
		entries: entries,
		docs:    make([]*document.OrderDocument, len(ids)),
		done:    make([]bool, len(ids)),
	}
}

func (c *collector) record(pos int, entry Entry, doc *document.OrderDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized || c.done[pos] {
		// the batch was already finalized under the deadline; discard
		return
	}
	c.entries[pos] = entry
	c.docs[pos] = doc
	c.done[pos] = true
}

// finalize marks still-incomplete items deadline_exceeded and freezes the
// ledger. Returns the result and the succeeded documents in request order.
func (c *collector) finalize(elapsed time.Duration) (*BatchResult, []*document.OrderDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = true

	result := &BatchResult{
		Entries:   c.entries,
		ElapsedMs: elapsed.Milliseconds(),
	}
	docs := make([]*document.OrderDocument, 0, len(c.entries))
	for i := range c.entries {
		if !c.done[i] {
			c.entries[i].Reason = ReasonDeadlineExceeded
			c.entries[i].Detail = "batch deadline expired before completion"
		}
		if c.entries[i].Succeeded {
			result.Succeeded++
			docs = append(docs, c.docs[i])
		} else {
			result.Failed++
		}
	}
	return result, docs
}
