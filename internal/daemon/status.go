package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/wppagent/internal/conn"
	"github.com/matheus3301/wppagent/internal/httpapi"
	"github.com/matheus3301/wppagent/internal/session"
	"github.com/matheus3301/wppagent/internal/store"
	intsync "github.com/matheus3301/wppagent/internal/sync"
	"github.com/matheus3301/wppagent/internal/vectors"
)

// statusProvider gathers the daemon state for GET /status.
type statusProvider struct {
	session string
	manager *conn.Manager
	db      *store.DB
	index   *vectors.Index
	rec     *intsync.Reconciler
}

func provideStatus(l session.Layout, m *conn.Manager, db *store.DB, idx *vectors.Index, e *intsync.Engine) *statusProvider {
	return &statusProvider{session: l.Name, manager: m, db: db, index: idx, rec: e.Reconciler()}
}

func (s *statusProvider) LastQR() string { return s.manager.LastQR() }

func (s *statusProvider) Status(_ context.Context) (httpapi.Status, error) {
	st := httpapi.Status{
		Session:    s.session,
		State:      string(s.manager.State()),
		StateSince: s.manager.StateSince().UTC().Format(time.RFC3339),
		LoggedIn:   s.manager.IsLoggedIn(),
		Attempts:   s.manager.Attempts(),
		Failed:     s.manager.Failed(),
		Pairing:    s.manager.LastQR() != "",
	}
	var err error
	if st.Chats, err = s.db.ChatCount(); err != nil {
		return st, err
	}
	if st.Messages, err = s.db.MessageCount(); err != nil {
		return st, err
	}
	if st.Contacts, err = s.db.ContactCount(); err != nil {
		return st, err
	}

	st.VectorIndex.Ready = s.index.Ready()
	st.VectorIndex.Model = s.index.Model()
	if st.VectorIndex.Vectors, err = s.index.Count(); err != nil {
		return st, err
	}

	h, err := s.rec.HistoryStatus()
	if err != nil {
		return st, err
	}
	st.History.Batches = h.Batches
	st.History.Messages = h.Messages
	st.History.Progress = h.Progress
	if !h.LastBatchAt.IsZero() {
		st.History.LastBatchAt = h.LastBatchAt.UTC().Format(time.RFC3339)
	}
	return st, nil
}
