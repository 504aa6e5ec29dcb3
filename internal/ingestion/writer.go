package ingestion

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Cinglein/temporal-data/internal/domain"
	"github.com/Cinglein/temporal-data/internal/observability"
	"github.com/Cinglein/temporal-data/internal/storage"
)

// Default configuration values.
const (
	// DefaultBatchSize caps how many events one bulk insert covers.
	DefaultBatchSize = 100

	// DefaultResolveConcurrency caps the slot resolution fan-out per batch.
	DefaultResolveConcurrency = 8
)

// SlotTimeResolver answers slot-to-timestamp queries. May suspend for the
// resolver's bounded wait or fallback call.
type SlotTimeResolver interface {
	Get(ctx context.Context, slot uint64) (int64, error)
}

// BatchWriter drains the event queue, resolves timestamps and persists
// records in bulk. Failures are isolated at the smallest granularity:
// a slot that fails to resolve drops only its events, a failed insert
// discards only its batch. Persistence is at-most-once by design; there is
// no retry and no redelivery.
type BatchWriter struct {
	queue       <-chan *domain.RawTx
	resolver    SlotTimeResolver
	store       storage.TxStore
	batchSize   int
	concurrency int
	logger      *log.Logger

	done chan struct{}
	err  error
}

// BatchWriterOptions contains configuration for creating a BatchWriter.
type BatchWriterOptions struct {
	Queue       <-chan *domain.RawTx
	Resolver    SlotTimeResolver
	Store       storage.TxStore
	BatchSize   int
	Concurrency int
	Logger      *log.Logger
}

// NewBatchWriter creates a new batch writer.
func NewBatchWriter(opts BatchWriterOptions) *BatchWriter {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultResolveConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &BatchWriter{
		queue:       opts.Queue,
		resolver:    opts.Resolver,
		store:       opts.Store,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Start runs the writer in its own goroutine. Use Wait to join.
func (w *BatchWriter) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		w.err = w.Run(ctx)
	}()
}

// Wait blocks until the writer has finished and returns its final error.
func (w *BatchWriter) Wait() error {
	<-w.done
	return w.err
}

// Run processes batches until the queue is closed and drained. Events
// already received are flushed before returning, including on cancellation.
func (w *BatchWriter) Run(ctx context.Context) error {
	w.logger.Println("Batch writer started")

	for {
		batch, open := w.nextBatch(ctx)
		if len(batch) > 0 {
			w.flush(ctx, batch)
		}
		if !open {
			w.logger.Println("Batch writer stopping: queue closed")
			return nil
		}
		if err := ctx.Err(); err != nil {
			w.logger.Println("Batch writer stopping: context cancelled")
			return err
		}
	}
}

// nextBatch blocks until at least one event is available, then greedily
// drains the queue up to the batch size. Returns open=false when the queue
// is closed.
func (w *BatchWriter) nextBatch(ctx context.Context) (batch []*domain.RawTx, open bool) {
	select {
	case tx, ok := <-w.queue:
		if !ok {
			return nil, false
		}
		batch = append(batch, tx)
	case <-ctx.Done():
		return nil, true
	}

	for len(batch) < w.batchSize {
		select {
		case tx, ok := <-w.queue:
			if !ok {
				return batch, false
			}
			batch = append(batch, tx)
		default:
			observability.UpdateQueueDepth(len(w.queue))
			return batch, true
		}
	}

	observability.UpdateQueueDepth(len(w.queue))
	return batch, true
}

// flush resolves timestamps for one batch and bulk-inserts the survivors.
func (w *BatchWriter) flush(ctx context.Context, batch []*domain.RawTx) {
	timestamps := w.resolveSlots(ctx, batch)

	txs := make([]*domain.Tx, 0, len(batch))
	for _, raw := range batch {
		ts, ok := timestamps[raw.Slot]
		if !ok {
			// Resolution failed; drop this event only.
			observability.RecordRecordDropped("unresolved_slot")
			w.logger.Printf("Dropping tx %s: no timestamp for slot %d", raw.Signature, raw.Slot)
			continue
		}
		if ts <= 0 {
			observability.RecordRecordDropped("invalid_timestamp")
			w.logger.Printf("Dropping tx %s: invalid timestamp %d for slot %d", raw.Signature, ts, raw.Slot)
			continue
		}
		txs = append(txs, &domain.Tx{
			Feepayer:  raw.Feepayer,
			Signature: raw.Signature,
			Timestamp: time.Unix(ts, 0).UTC(),
			Slot:      raw.Slot,
			Fee:       raw.Fee,
			Profit:    raw.Profit,
		})
	}

	if len(txs) == 0 {
		return
	}

	start := time.Now()
	err := w.store.InsertBulk(ctx, txs)
	observability.RecordBatchInsert(len(txs), time.Since(start).Seconds(), err)
	if err != nil {
		// Whole batch discarded; the loop moves on.
		w.logger.Printf("Error inserting batch of %d txs: %v", len(txs), err)
		return
	}
	w.logger.Printf("Inserted %d txs (%d received)", len(txs), len(batch))
}

// resolveSlots resolves the batch's distinct slots concurrently. Failed
// slots are logged and omitted from the result.
func (w *BatchWriter) resolveSlots(ctx context.Context, batch []*domain.RawTx) map[uint64]int64 {
	slots := make(map[uint64]struct{}, len(batch))
	for _, raw := range batch {
		slots[raw.Slot] = struct{}{}
	}

	var mu sync.Mutex
	timestamps := make(map[uint64]int64, len(slots))

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for slot := range slots {
		g.Go(func() error {
			ts, err := w.resolver.Get(ctx, slot)
			if err != nil {
				// Per-slot failure; affected events are dropped from this batch only.
				w.logger.Printf("Error finding blocktime for slot %d: %v", slot, err)
				return nil
			}
			mu.Lock()
			timestamps[slot] = ts
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return timestamps
}
