// Package vectors stores message embeddings next to the row store and
// answers nearest-neighbour queries over them.
package vectors

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppagent/internal/embedding"
	"github.com/matheus3301/wppagent/internal/store"
)

// Hit is one search result. Distance is 1 - cosine similarity.
type Hit struct {
	MessageID int64
	Distance  float64
}

// Index is a brute-force cosine index over the message_embeddings table.
// Until Initialize succeeds every method is a no-op or returns nothing.
type Index struct {
	db     *store.DB
	logger *zap.Logger

	mu    sync.RWMutex
	ready bool
	model string
}

func NewIndex(db *store.DB, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{db: db, logger: logger.Named("vectors")}
}

// Initialize probes the embeddings table and drops vectors produced by any
// model other than model. On failure the index stays uninitialized.
func (x *Index) Initialize(model string) error {
	if model == "" {
		return fmt.Errorf("vector index: empty model tag")
	}
	var n int64
	if err := x.db.QueryRow(`SELECT COUNT(*) FROM message_embeddings`).Scan(&n); err != nil {
		return fmt.Errorf("vector index probe: %w", err)
	}
	res, err := x.db.Exec(`DELETE FROM message_embeddings WHERE model != ?`, model)
	if err != nil {
		return fmt.Errorf("purge stale vectors: %w", err)
	}
	if purged, _ := res.RowsAffected(); purged > 0 {
		x.logger.Info("purged vectors from previous model", zap.Int64("count", purged), zap.String("model", model))
	}

	x.mu.Lock()
	x.ready, x.model = true, model
	x.mu.Unlock()
	return nil
}

// Ready reports whether Initialize succeeded.
func (x *Index) Ready() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ready
}

func (x *Index) Model() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.model
}

// Upsert replaces the vector of a message. Deleted or unknown messages are
// skipped, so a late job cannot resurrect a removed vector.
func (x *Index) Upsert(messageID int64, v embedding.Vector, model string) error {
	if !x.Ready() || len(v) == 0 {
		return nil
	}
	_, err := x.db.Exec(`INSERT INTO message_embeddings (message_id, model, dims, vector, created_at)
		SELECT id, ?, ?, ?, ? FROM messages WHERE id = ? AND is_deleted = 0
		ON CONFLICT(message_id) DO UPDATE SET
			model = excluded.model, dims = excluded.dims,
			vector = excluded.vector, created_at = excluded.created_at`,
		model, len(v), encode(v), time.Now().UnixMilli(), messageID)
	if err != nil {
		return fmt.Errorf("upsert vector %d: %w", messageID, err)
	}
	return nil
}

// Delete removes the vector of a message, if any.
func (x *Index) Delete(messageID int64) error {
	if !x.Ready() {
		return nil
	}
	_, err := x.db.Exec(`DELETE FROM message_embeddings WHERE message_id = ?`, messageID)
	return err
}

// Search returns up to limit messages ordered by ascending cosine distance
// to query. Vectors of a different dimension are skipped.
func (x *Index) Search(query embedding.Vector, limit int) ([]Hit, error) {
	if !x.Ready() || len(query) == 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := x.db.Query(`SELECT message_id, vector FROM message_embeddings WHERE model = ? AND dims = ?`,
		x.Model(), len(query))
	if err != nil {
		return nil, fmt.Errorf("scan vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		v := decode(blob)
		if len(v) != len(query) {
			continue
		}
		hits = append(hits, Hit{MessageID: id, Distance: 1 - embedding.CosineSimilarity(query, v)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// UnembeddedMessageIDs lists messages with content but no vector, newest
// first.
func (x *Index) UnembeddedMessageIDs(limit int) ([]int64, error) {
	if !x.Ready() || limit <= 0 {
		return nil, nil
	}
	rows, err := x.db.Query(`
		SELECT m.id FROM messages m
		LEFT JOIN message_embeddings e ON e.message_id = m.id
		WHERE e.message_id IS NULL AND m.is_deleted = 0 AND COALESCE(m.content, '') != ''
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of stored vectors.
func (x *Index) Count() (int64, error) {
	if !x.Ready() {
		return 0, nil
	}
	var n int64
	err := x.db.QueryRow(`SELECT COUNT(*) FROM message_embeddings`).Scan(&n)
	return n, err
}

// Vectors are stored as little-endian float32.
func encode(v embedding.Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decode(b []byte) embedding.Vector {
	if len(b)%4 != 0 {
		return nil
	}
	v := make(embedding.Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
