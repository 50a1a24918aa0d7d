package sync

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppagent/internal/store"
)

// Checkpoint keys in sync_state.
const (
	KeyHistoryBatches  = "history.batches"
	KeyHistoryMessages = "history.messages"
	KeyHistoryProgress = "history.progress"
	KeyHistoryLastAt   = "history.last_batch_at"
)

// HistoryStatus summarizes how much backlog has been replayed.
type HistoryStatus struct {
	Batches     int64
	Messages    int64
	Progress    int
	LastBatchAt time.Time
}

// Reconciler manages history sync checkpoints.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	return r.db.SetState(key, value)
}

// GetCheckpoint retrieves a sync checkpoint value, "" when unset.
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	v, _, err := r.db.GetState(key)
	return v, err
}

// RecordHistoryBatch advances the history counters after a batch commit.
func (r *Reconciler) RecordHistoryBatch(messages, progress int) error {
	st, err := r.HistoryStatus()
	if err != nil {
		return err
	}
	updates := []struct{ key, value string }{
		{KeyHistoryBatches, strconv.FormatInt(st.Batches+1, 10)},
		{KeyHistoryMessages, strconv.FormatInt(st.Messages+int64(messages), 10)},
		{KeyHistoryProgress, strconv.Itoa(max(progress, st.Progress))},
		{KeyHistoryLastAt, strconv.FormatInt(time.Now().UnixMilli(), 10)},
	}
	for _, u := range updates {
		if err := r.UpdateCheckpoint(u.key, u.value); err != nil {
			return err
		}
	}
	return nil
}

// HistoryStatus reads the history counters. Unset counters are zero.
func (r *Reconciler) HistoryStatus() (HistoryStatus, error) {
	var st HistoryStatus
	read := func(key string) (int64, error) {
		v, err := r.GetCheckpoint(key)
		if err != nil || v == "" {
			return 0, err
		}
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			r.logger.Warn("corrupt checkpoint", zap.String("key", key), zap.String("value", v))
			return 0, nil
		}
		return n, nil
	}

	var err error
	if st.Batches, err = read(KeyHistoryBatches); err != nil {
		return st, err
	}
	if st.Messages, err = read(KeyHistoryMessages); err != nil {
		return st, err
	}
	progress, err := read(KeyHistoryProgress)
	if err != nil {
		return st, err
	}
	st.Progress = int(progress)
	last, err := read(KeyHistoryLastAt)
	if err != nil {
		return st, err
	}
	if last > 0 {
		st.LastBatchAt = time.UnixMilli(last)
	}
	return st, nil
}
