package vectors

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/wppagent/internal/embedding"
	"github.com/matheus3301/wppagent/internal/metrics"
	"github.com/matheus3301/wppagent/internal/store"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 2
)

type job struct {
	messageID int64
	text      string
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// QueueSize bounds the number of pending embedding jobs.
func QueueSize(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.queueSize = n
		}
	}
}

// Workers sets the number of concurrent embedding calls.
func Workers(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.workers = n
		}
	}
}

// Indexer embeds messages off the ingestion path. Jobs that do not fit in
// the queue are dropped; Backfill picks them up later.
type Indexer struct {
	index    *Index
	embedder embedding.Embedder
	db       *store.DB
	metrics  *metrics.Metrics
	logger   *zap.Logger

	queueSize int
	workers   int

	mu      sync.RWMutex
	jobs    chan job
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewIndexer wires an indexer. A nil embedder disables it.
func NewIndexer(idx *Index, emb embedding.Embedder, db *store.DB, mx *metrics.Metrics, logger *zap.Logger, opts ...IndexerOption) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ix := &Indexer{
		index:     idx,
		embedder:  emb,
		db:        db,
		metrics:   mx,
		logger:    logger.Named("indexer"),
		queueSize: defaultQueueSize,
		workers:   defaultWorkers,
	}
	for _, o := range opts {
		o(ix)
	}
	ix.jobs = make(chan job, ix.queueSize)
	return ix
}

// Enabled reports whether there is an embedder and a ready index.
func (ix *Indexer) Enabled() bool {
	return ix != nil && ix.embedder != nil && ix.index.Ready()
}

// Start launches the worker pool. Calls after the first are ignored.
func (ix *Indexer) Start(ctx context.Context) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.started || ix.closed || ix.embedder == nil {
		return
	}
	ix.started = true
	for range ix.workers {
		ix.wg.Add(1)
		go ix.work(ctx)
	}
}

// Enqueue schedules text for embedding. It never blocks and reports
// whether the job was queued.
func (ix *Indexer) Enqueue(messageID int64, text string) bool {
	if !ix.Enabled() || text == "" {
		return false
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return false
	}
	select {
	case ix.jobs <- job{messageID: messageID, text: text}:
		return true
	default:
		ix.metrics.Embedding("dropped")
		return false
	}
}

// Remove drops the vector of a message.
func (ix *Indexer) Remove(messageID int64) {
	if ix == nil {
		return
	}
	if err := ix.index.Delete(messageID); err != nil {
		ix.logger.Warn("delete vector failed", zap.Int64("message_id", messageID), zap.Error(err))
	}
}

// Backfill embeds stored messages that have no vector yet, batch at a
// time, until none remain or a round makes no progress.
func (ix *Indexer) Backfill(ctx context.Context, batch int) (int, error) {
	if !ix.Enabled() {
		return 0, nil
	}
	if batch <= 0 {
		batch = 32
	}
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ids, err := ix.index.UnembeddedMessageIDs(batch)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		texts := make([]string, 0, len(ids))
		keep := make([]int64, 0, len(ids))
		for _, id := range ids {
			m, err := ix.db.GetMessageByRowID(id)
			if err != nil {
				return total, err
			}
			if m == nil || m.Content == "" {
				continue
			}
			texts = append(texts, m.Content)
			keep = append(keep, id)
		}

		vecs, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, err
		}
		done := 0
		for i, v := range vecs {
			if v == nil {
				ix.metrics.Embedding("failed")
				continue
			}
			if err := ix.index.Upsert(keep[i], v, ix.embedder.Model()); err != nil {
				return total, err
			}
			ix.metrics.Embedding("ok")
			done++
		}
		total += done
		if done == 0 {
			ix.logger.Warn("backfill stalled", zap.Int("pending", len(ids)))
			return total, nil
		}
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (ix *Indexer) Close() {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return
	}
	ix.closed = true
	close(ix.jobs)
	ix.mu.Unlock()
	ix.wg.Wait()
}

func (ix *Indexer) work(ctx context.Context) {
	defer ix.wg.Done()
	for j := range ix.jobs {
		if ctx.Err() != nil {
			continue
		}
		v, err := ix.embedder.Embed(ctx, j.text)
		if err != nil {
			ix.metrics.Embedding("failed")
			ix.logger.Warn("embedding failed", zap.Int64("message_id", j.messageID), zap.Error(err))
			continue
		}
		if err := ix.index.Upsert(j.messageID, v, ix.embedder.Model()); err != nil {
			ix.metrics.Embedding("failed")
			ix.logger.Warn("store vector failed", zap.Int64("message_id", j.messageID), zap.Error(err))
			continue
		}
		ix.metrics.Embedding("ok")
	}
}

// ErrUnavailable is returned by Search when no embedder or index is ready.
var ErrUnavailable = errors.New("semantic search unavailable")

// Search embeds text and returns the nearest stored messages.
func (ix *Indexer) Search(ctx context.Context, text string, limit int) ([]Hit, error) {
	if !ix.Enabled() {
		return nil, ErrUnavailable
	}
	v, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return ix.index.Search(v, limit)
}
