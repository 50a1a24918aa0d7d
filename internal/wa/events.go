package wa

import (
	"time"

	"github.com/matheus3301/wppagent/internal/conn"
	ev "github.com/matheus3301/wppagent/internal/events"
	"github.com/matheus3301/wppagent/internal/opt"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// handle is the whatsmeow event handler. It runs on whatsmeow's goroutine
// and only translates: connection events become lifecycle signals, the
// rest become normalized events pushed to the sink.
func (a *Adapter) handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		a.logger.Info("WhatsApp connected")
		a.lifecycle(conn.Lifecycle{Kind: conn.LifecycleConnected})
		a.lifecycle(conn.Lifecycle{Kind: conn.LifecycleCredentialsChanged})
	case *events.AppStateSyncComplete:
		a.logger.Debug("app state synced", zap.String("name", string(evt.Name)))
		a.lifecycle(conn.Lifecycle{Kind: conn.LifecycleCredentialsChanged})
	case *events.Disconnected:
		a.logger.Warn("WhatsApp disconnected")
		a.closed(conn.CauseNetwork, "disconnected")
	case *events.StreamReplaced:
		a.closed(conn.CauseReplaced, "stream replaced by another client")
	case *events.StreamError:
		a.closed(conn.CauseStreamError, evt.Code)
	case *events.ConnectFailure:
		if evt.Reason.IsLoggedOut() {
			a.closed(conn.CauseLoggedOut, evt.Reason.String())
			return
		}
		a.closed(conn.CauseConnectFailure, evt.Reason.String())
	case *events.TemporaryBan:
		a.closed(conn.CauseConnectFailure, evt.String())
	case *events.ClientOutdated:
		a.closed(conn.CauseConnectFailure, "client outdated")
	case *events.LoggedOut:
		a.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		a.closed(conn.CauseLoggedOut, evt.Reason.String())
	case *events.KeepAliveTimeout:
		a.logger.Warn("keepalive timeout", zap.Int("error_count", evt.ErrorCount))
	case *events.PairSuccess:
		a.logger.Info("paired", zap.String("jid", evt.ID.ToNonAD().String()))
		a.lifecycle(conn.Lifecycle{Kind: conn.LifecycleCredentialsChanged})
	case *events.PushNameSetting:
		a.lifecycle(conn.Lifecycle{Kind: conn.LifecycleCredentialsChanged})

	case *events.Message:
		a.handleMessage(evt)
	case *events.HistorySync:
		a.handleHistorySync(evt)
		// whatsmeow stores keys and contacts from the blob even when replay is off
		a.lifecycle(conn.Lifecycle{Kind: conn.LifecycleCredentialsChanged})

	case *events.Archive:
		a.chatUpdate(ev.Chat{JID: a.jid(evt.JID), Archived: opt.Some(evt.Action.GetArchived())}, false)
	case *events.Pin:
		a.chatUpdate(ev.Chat{JID: a.jid(evt.JID), Pinned: opt.Some(evt.Action.GetPinned())}, false)
	case *events.Mute:
		c := ev.Chat{JID: a.jid(evt.JID), Muted: opt.Some(evt.Action.GetMuted())}
		if until := evt.Action.GetMuteEndTimestamp(); evt.Action.GetMuted() && until > 0 {
			c.MutedUntil = opt.Some(time.UnixMilli(until))
		}
		a.chatUpdate(c, false)
	case *events.MarkChatAsRead:
		if evt.Action.GetRead() {
			a.chatUpdate(ev.Chat{JID: a.jid(evt.JID)}, true)
		}
	case *events.Star:
		a.emit(&ev.MessageUpdate{
			Type:    ev.UpdateStarred,
			ChatJID: a.jid(evt.ChatJID),
			MsgID:   evt.MessageID,
			Starred: evt.Action.GetStarred(),
		})
	case *events.DeleteForMe:
		a.emit(&ev.MessageUpdate{Type: ev.UpdateDeleted, ChatJID: a.jid(evt.ChatJID), MsgID: evt.MessageID})

	case *events.Contact:
		c := ev.Contact{JID: a.jid(evt.JID), Phone: phoneOf(evt.JID)}
		if name := evt.Action.GetFullName(); name != "" {
			c.Name = opt.Some(name)
		}
		a.contacts(c)
	case *events.PushName:
		a.contacts(ev.Contact{JID: a.jid(evt.JID), Phone: phoneOf(evt.JID), PushName: opt.Some(evt.NewPushName)})
	case *events.BusinessName:
		a.contacts(ev.Contact{
			JID:          a.jid(evt.JID),
			BusinessName: opt.Some(evt.NewBusinessName),
			IsBusiness:   opt.Some(true),
		})
	case *events.Picture:
		pic := evt.PictureID
		if evt.Remove {
			pic = ""
		}
		a.contacts(ev.Contact{JID: a.jid(evt.JID), ProfilePicture: opt.Some(pic)})

	case *events.GroupInfo:
		g := &ev.GroupUpdate{JID: a.jid(evt.JID)}
		if evt.Name != nil {
			g.Name = opt.Some(evt.Name.Name)
		}
		if evt.Topic != nil {
			g.Topic = opt.Some(evt.Topic.Topic)
		}
		for _, p := range evt.Join {
			g.Participants = append(g.Participants, a.jid(p))
		}
		a.emit(g)
	case *events.JoinedGroup:
		g := &ev.GroupUpdate{JID: a.jid(evt.JID), Joined: true, Name: opt.NonEmpty(evt.Name)}
		if evt.Topic != "" {
			g.Topic = opt.Some(evt.Topic)
		}
		for _, p := range evt.Participants {
			g.Participants = append(g.Participants, a.jid(p.JID))
		}
		a.emit(g)
	}
}

func (a *Adapter) lifecycle(l conn.Lifecycle) {
	if s := a.getSink(); s != nil {
		s.HandleLifecycle(l)
	}
}

func (a *Adapter) closed(cause conn.CloseCause, reason string) {
	a.lifecycle(conn.Lifecycle{Kind: conn.LifecycleClosed, Cause: cause, Reason: reason})
}

func (a *Adapter) emit(e ev.Event) {
	if s := a.getSink(); s != nil {
		s.HandleEvent(e)
	}
}

func (a *Adapter) chatUpdate(c ev.Chat, read bool) {
	a.emit(&ev.ChatUpdate{Chat: c, Read: read})
}

func (a *Adapter) contacts(cs ...ev.Contact) {
	a.emit(&ev.ContactBatch{Contacts: cs})
}

func (a *Adapter) handleMessage(evt *events.Message) {
	parsed := parseMessage(evt.Message, evt.Info, a.jid)
	if parsed == nil {
		return
	}
	a.emit(parsed)

	m, ok := parsed.(*ev.Message)
	if !ok {
		return
	}
	if !m.FromMe && evt.Info.PushName != "" && !evt.Info.Sender.IsEmpty() {
		a.contacts(ev.Contact{
			JID:      m.SenderJID,
			Phone:    phoneOf(evt.Info.Sender),
			PushName: opt.Some(evt.Info.PushName),
		})
	}
	if a.opts.AutoDownload && m.Media != nil && a.opts.MediaDir != "" {
		if d := downloadable(evt.Message); d != nil {
			go a.download(d, m)
		}
	}
}

func (a *Adapter) handleHistorySync(evt *events.HistorySync) {
	if !a.historyReplay.Load() {
		a.logger.Debug("history replay disabled, dropping batch")
		return
	}
	batch := buildHistoryBatch(evt.Data, a.jid)
	if batch == nil {
		return
	}
	a.logger.Info("history batch received",
		zap.Int("chats", len(batch.Chats)),
		zap.Int("messages", len(batch.Messages)),
		zap.Int("progress", batch.Progress),
	)
	a.emit(batch)
}

// buildHistoryBatch converts a history sync blob. Conversations with an
// unparsable id are skipped; reactions and protocol messages inside history
// are ignored because the final message state is already in the blob.
func buildHistoryBatch(data *waHistorySync.HistorySync, jid jidFunc) *ev.HistoryBatch {
	if data == nil {
		return nil
	}
	batch := &ev.HistoryBatch{Progress: int(data.GetProgress())}

	for _, conv := range data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil || chatJID.IsEmpty() {
			continue
		}
		chat := ev.Chat{
			JID:         jid(chatJID),
			Name:        opt.NonEmpty(conv.GetName()),
			UnreadCount: opt.Some(int(conv.GetUnreadCount())),
		}
		if conv.GetArchived() {
			chat.Archived = opt.Some(true)
		}
		if conv.GetPinned() > 0 {
			chat.Pinned = opt.Some(true)
		}
		if until := conv.GetMuteEndTime(); until > 0 {
			chat.Muted = opt.Some(true)
			chat.MutedUntil = opt.Some(time.Unix(int64(until), 0))
		}
		if ts := conv.GetConversationTimestamp(); ts > 0 {
			chat.LastMessageAt = opt.Some(time.Unix(int64(ts), 0))
		}
		batch.Chats = append(batch.Chats, chat)

		for _, hm := range conv.GetMessages() {
			wm := hm.GetMessage()
			if wm == nil || wm.GetMessage() == nil {
				continue
			}
			key := wm.GetKey()
			info := types.MessageInfo{
				MessageSource: types.MessageSource{
					Chat:     chatJID,
					IsFromMe: key.GetFromMe(),
					IsGroup:  chatJID.Server == types.GroupServer,
				},
				ID:        key.GetID(),
				PushName:  wm.GetPushName(),
				Timestamp: time.Unix(int64(wm.GetMessageTimestamp()), 0),
			}
			switch {
			case key.GetParticipant() != "":
				info.Sender, _ = types.ParseJID(key.GetParticipant())
			case wm.GetParticipant() != "":
				info.Sender, _ = types.ParseJID(wm.GetParticipant())
			case !key.GetFromMe():
				info.Sender = chatJID
			}

			raw := (&events.Message{Info: info, RawMessage: wm.GetMessage()}).UnwrapRaw()
			if m, ok := parseMessage(raw.Message, info, jid).(*ev.Message); ok {
				m.History = true
				batch.Messages = append(batch.Messages, *m)
			}
		}
	}

	for _, pn := range data.GetPushnames() {
		id, err := types.ParseJID(pn.GetID())
		if err != nil || pn.GetPushname() == "" {
			continue
		}
		batch.Contacts = append(batch.Contacts, ev.Contact{
			JID:      jid(id),
			Phone:    phoneOf(id),
			PushName: opt.Some(pn.GetPushname()),
		})
	}
	return batch
}

// phoneOf returns the phone number of a regular user JID.
func phoneOf(j types.JID) opt.Opt[string] {
	if j.Server != types.DefaultUserServer || j.User == "" {
		return opt.Opt[string]{}
	}
	return opt.Some(j.User)
}
