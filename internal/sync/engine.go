package sync

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppagent/internal/bus"
	"github.com/matheus3301/wppagent/internal/events"
	"github.com/matheus3301/wppagent/internal/metrics"
	"github.com/matheus3301/wppagent/internal/opt"
	"github.com/matheus3301/wppagent/internal/store"
	"github.com/matheus3301/wppagent/internal/vectors"
)

// ErrUnknownMessage is returned for updates that target a message the store
// has never seen. The dispatcher logs and drops such events.
var ErrUnknownMessage = errors.New("unknown message")

// Engine translates normalized events into store writes. It keeps no state
// of its own; ordering comes from the dispatcher that calls it.
type Engine struct {
	db      *store.DB
	indexer *vectors.Indexer
	bus     *bus.Bus
	metrics *metrics.Metrics
	rec     *Reconciler
	logger  *zap.Logger
}

var _ events.Observer = (*Engine)(nil)

// NewEngine creates a new sync engine. indexer, b and mx may be nil.
func NewEngine(db *store.DB, indexer *vectors.Indexer, b *bus.Bus, mx *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:      db,
		indexer: indexer,
		bus:     b,
		metrics: mx,
		rec:     NewReconciler(db, logger),
		logger:  logger.Named("sync"),
	}
}

// Reconciler exposes the history checkpoints.
func (e *Engine) Reconciler() *Reconciler { return e.rec }

func (e *Engine) OnMessage(m *events.Message) error {
	res, err := e.db.IngestMessage(messageUpsert(m), !m.FromMe && !m.History)
	if err != nil {
		return fmt.Errorf("ingest message %s: %w", m.MsgID, err)
	}
	e.metrics.EventIngested(events.KindMessage)
	if res.Inserted {
		e.embed(res.RowID, m.Content)
	}

	e.publish(bus.KindMessageUpserted, map[string]any{
		"chat_jid": m.ChatJID,
		"msg_id":   m.MsgID,
		"inserted": res.Inserted,
	})
	return nil
}

func (e *Engine) OnHistory(h *events.HistoryBatch) error {
	chats := make([]*store.ChatUpsert, 0, len(h.Chats))
	for i := range h.Chats {
		chats = append(chats, chatUpsert(&h.Chats[i]))
	}
	msgs := make([]*store.MessageUpsert, 0, len(h.Messages))
	for i := range h.Messages {
		msgs = append(msgs, messageUpsert(&h.Messages[i]))
	}

	results, err := e.db.IngestHistory(chats, msgs)
	if err != nil {
		return fmt.Errorf("ingest history batch: %w", err)
	}
	if len(h.Contacts) > 0 {
		if err := e.db.BulkUpsertContacts(contactUpserts(h.Contacts)); err != nil {
			return fmt.Errorf("history contacts: %w", err)
		}
	}
	for i, r := range results {
		if r.Inserted {
			e.embed(r.RowID, h.Messages[i].Content)
		}
	}
	if err := e.rec.RecordHistoryBatch(len(h.Messages), h.Progress); err != nil {
		e.logger.Warn("history checkpoint failed", zap.Error(err))
	}
	e.metrics.EventIngested(events.KindHistory)

	e.logger.Info("history batch ingested",
		zap.Int("chats", len(h.Chats)),
		zap.Int("messages", len(h.Messages)),
		zap.Int("progress", h.Progress))
	e.publish(bus.KindMessageHistory, map[string]int{
		"chats_count":    len(h.Chats),
		"messages_count": len(h.Messages),
		"progress":       h.Progress,
	})
	return nil
}

func (e *Engine) OnMessageUpdate(u *events.MessageUpdate) error {
	switch u.Type {
	case events.UpdateEdited:
		rowID, err := e.db.EditMessageContent(u.ChatJID, u.MsgID, u.Content)
		if err != nil {
			return fmt.Errorf("edit message %s: %w", u.MsgID, err)
		}
		if rowID == 0 {
			return fmt.Errorf("edit %s: %w", u.MsgID, ErrUnknownMessage)
		}
		e.embed(rowID, u.Content)
	case events.UpdateDeleted:
		rowID, err := e.db.MarkMessageDeleted(u.ChatJID, u.MsgID)
		if err != nil {
			return fmt.Errorf("delete message %s: %w", u.MsgID, err)
		}
		if rowID == 0 {
			return fmt.Errorf("delete %s: %w", u.MsgID, ErrUnknownMessage)
		}
		e.indexer.Remove(rowID)
	case events.UpdateStarred:
		if err := e.db.SetStarred(u.ChatJID, u.MsgID, u.Starred); err != nil {
			return fmt.Errorf("star message %s: %w", u.MsgID, err)
		}
	case events.UpdateMediaDownloaded:
		if err := e.db.SetMediaDownloaded(u.ChatJID, u.MsgID, u.MediaPath); err != nil {
			return fmt.Errorf("record media %s: %w", u.MsgID, err)
		}
	default:
		return fmt.Errorf("unknown message update type %q", u.Type)
	}
	e.metrics.EventIngested(events.KindMessageUpdate)
	e.publish(bus.KindMessageUpdated, map[string]string{
		"chat_jid": u.ChatJID,
		"msg_id":   u.MsgID,
		"type":     string(u.Type),
	})
	return nil
}

func (e *Engine) OnReaction(r *events.Reaction) error {
	ok, err := e.db.ApplyReaction(r.ChatJID, r.MsgID, r.Emoji, r.Reactor)
	if err != nil {
		return fmt.Errorf("apply reaction on %s: %w", r.MsgID, err)
	}
	if !ok {
		// The target may still arrive later in history sync.
		e.logger.Debug("reaction before its message", zap.String("chat_jid", r.ChatJID), zap.String("msg_id", r.MsgID))
		return nil
	}
	e.metrics.EventIngested(events.KindReaction)
	e.publish(bus.KindMessageReaction, map[string]string{
		"chat_jid": r.ChatJID,
		"msg_id":   r.MsgID,
		"emoji":    r.Emoji,
	})
	return nil
}

func (e *Engine) OnChatUpdate(c *events.ChatUpdate) error {
	if c.JID == "" {
		return errors.New("chat update without jid")
	}
	if hasChatFields(&c.Chat) {
		if err := e.db.UpsertChat(chatUpsert(&c.Chat)); err != nil {
			return err
		}
	}
	if c.Read {
		if err := e.db.MarkChatRead(c.JID); err != nil {
			return fmt.Errorf("mark %s read: %w", c.JID, err)
		}
	}
	e.metrics.EventIngested(events.KindChatUpdate)
	e.publish(bus.KindChatUpdated, map[string]string{"chat_jid": c.JID})
	return nil
}

func (e *Engine) OnContacts(b *events.ContactBatch) error {
	if err := e.db.BulkUpsertContacts(contactUpserts(b.Contacts)); err != nil {
		return fmt.Errorf("upsert contacts: %w", err)
	}
	e.metrics.EventIngested(events.KindContacts)
	return nil
}

func (e *Engine) OnGroupUpdate(g *events.GroupUpdate) error {
	if err := e.db.UpsertChat(&store.ChatUpsert{
		JID:     g.JID,
		Name:    g.Name,
		IsGroup: opt.Some(true),
	}); err != nil {
		return fmt.Errorf("upsert group %s: %w", g.JID, err)
	}
	e.metrics.EventIngested(events.KindGroupUpdate)
	e.publish(bus.KindChatUpdated, map[string]string{"chat_jid": g.JID})
	return nil
}

func (e *Engine) embed(rowID int64, content string) {
	if rowID == 0 || content == "" || e.indexer == nil {
		return
	}
	e.indexer.Enqueue(rowID, content)
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func millis(t time.Time) opt.Opt[int64] {
	if t.IsZero() {
		return opt.Opt[int64]{}
	}
	return opt.Some(t.UnixMilli())
}

func millisOpt(o opt.Opt[time.Time]) opt.Opt[int64] {
	t, ok := o.Get()
	if !ok {
		return opt.Opt[int64]{}
	}
	// A present zero time means "no expiry" and maps to 0.
	if t.IsZero() {
		return opt.Some(int64(0))
	}
	return opt.Some(t.UnixMilli())
}

func messageUpsert(m *events.Message) *store.MessageUpsert {
	up := &store.MessageUpsert{
		ChatJID:     m.ChatJID,
		MsgID:       m.MsgID,
		SenderJID:   opt.NonEmpty(m.SenderJID),
		SenderName:  opt.NonEmpty(m.SenderName),
		Content:     opt.NonEmpty(m.Content),
		MessageType: opt.NonEmpty(m.MessageType),
		Timestamp:   millis(m.Timestamp),
		FromMe:      opt.Some(m.FromMe),
		ReplyToID:   opt.NonEmpty(m.ReplyToID),
	}
	if m.Forwarded {
		up.Forwarded = opt.Some(true)
	}
	if md := m.Media; md != nil {
		up.MediaType = opt.NonEmpty(md.Type)
		up.MediaMime = opt.NonEmpty(md.Mime)
		up.MediaFilename = opt.NonEmpty(md.Filename)
		if md.Size > 0 {
			up.MediaSize = opt.Some(md.Size)
		}
	}
	return up
}

func chatUpsert(c *events.Chat) *store.ChatUpsert {
	return &store.ChatUpsert{
		JID:           c.JID,
		Name:          c.Name,
		IsGroup:       c.IsGroup,
		Archived:      c.Archived,
		Pinned:        c.Pinned,
		Muted:         c.Muted,
		MutedUntil:    millisOpt(c.MutedUntil),
		UnreadCount:   c.UnreadCount,
		LastMessageAt: millisOpt(c.LastMessageAt),
	}
}

func hasChatFields(c *events.Chat) bool {
	return c.Name.IsSet() || c.IsGroup.IsSet() || c.Archived.IsSet() || c.Pinned.IsSet() ||
		c.Muted.IsSet() || c.MutedUntil.IsSet() || c.UnreadCount.IsSet() || c.LastMessageAt.IsSet()
}

func contactUpserts(cs []events.Contact) []store.ContactUpsert {
	out := make([]store.ContactUpsert, 0, len(cs))
	for _, c := range cs {
		if c.JID == "" {
			continue
		}
		out = append(out, store.ContactUpsert{
			JID:            c.JID,
			Phone:          c.Phone,
			Name:           c.Name,
			PushName:       c.PushName,
			BusinessName:   c.BusinessName,
			IsBusiness:     c.IsBusiness,
			ProfilePicture: c.ProfilePicture,
		})
	}
	return out
}
