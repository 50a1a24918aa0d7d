package wa

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppagent/internal/conn"
	ev "github.com/matheus3301/wppagent/internal/events"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waSyncAction"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

type fakeSink struct {
	mu         sync.Mutex
	lifecycles []conn.Lifecycle
	events     []ev.Event
}

func (s *fakeSink) HandleLifecycle(l conn.Lifecycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycles = append(s.lifecycles, l)
}

func (s *fakeSink) HandleEvent(e ev.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// newTestAdapter returns an adapter without a whatsmeow client; only the
// translation paths are exercised.
func newTestAdapter(historyReplay bool) (*Adapter, *fakeSink) {
	a := &Adapter{logger: zap.NewNop()}
	a.historyReplay.Store(historyReplay)
	s := &fakeSink{}
	a.SetSink(s)
	return a, s
}

func TestHandleConnectionEvents(t *testing.T) {
	tests := []struct {
		name  string
		evt   any
		kind  conn.LifecycleKind
		cause conn.CloseCause
	}{
		{"app state synced", &events.AppStateSyncComplete{Name: appstate.WAPatchRegular}, conn.LifecycleCredentialsChanged, 0},
		{"disconnected", &events.Disconnected{}, conn.LifecycleClosed, conn.CauseNetwork},
		{"replaced", &events.StreamReplaced{}, conn.LifecycleClosed, conn.CauseReplaced},
		{"stream error", &events.StreamError{Code: "503"}, conn.LifecycleClosed, conn.CauseStreamError},
		{"logged out", &events.LoggedOut{Reason: events.ConnectFailureLoggedOut}, conn.LifecycleClosed, conn.CauseLoggedOut},
		{"connect failure logged out", &events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}, conn.LifecycleClosed, conn.CauseLoggedOut},
		{"connect failure other", &events.ConnectFailure{Reason: events.ConnectFailureServiceUnavailable}, conn.LifecycleClosed, conn.CauseConnectFailure},
		{"pair success", &events.PairSuccess{ID: types.NewJID("5511999", types.DefaultUserServer)}, conn.LifecycleCredentialsChanged, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, s := newTestAdapter(true)
			a.handle(tt.evt)
			if len(s.lifecycles) != 1 {
				t.Fatalf("lifecycles = %d, want 1", len(s.lifecycles))
			}
			got := s.lifecycles[0]
			if got.Kind != tt.kind {
				t.Errorf("kind = %d, want %d", got.Kind, tt.kind)
			}
			if got.Kind == conn.LifecycleClosed && got.Cause != tt.cause {
				t.Errorf("cause = %s, want %s", got.Cause, tt.cause)
			}
		})
	}
}

func TestConnectedPersistsCredentials(t *testing.T) {
	a, s := newTestAdapter(true)
	a.handle(&events.Connected{})
	if len(s.lifecycles) != 2 {
		t.Fatalf("lifecycles = %d, want 2", len(s.lifecycles))
	}
	if s.lifecycles[0].Kind != conn.LifecycleConnected {
		t.Errorf("first kind = %d, want connected", s.lifecycles[0].Kind)
	}
	if s.lifecycles[1].Kind != conn.LifecycleCredentialsChanged {
		t.Errorf("second kind = %d, want credentials changed", s.lifecycles[1].Kind)
	}
}

func TestHistorySyncPersistsCredentials(t *testing.T) {
	for _, replay := range []bool{true, false} {
		a, s := newTestAdapter(replay)
		a.handle(&events.HistorySync{Data: &waHistorySync.HistorySync{
			Conversations: []*waHistorySync.Conversation{{ID: proto.String("1@s.whatsapp.net")}},
		}})
		if len(s.lifecycles) != 1 || s.lifecycles[0].Kind != conn.LifecycleCredentialsChanged {
			t.Errorf("replay=%t: lifecycles = %+v, want one credentials change", replay, s.lifecycles)
		}
	}
}

func TestOnlyLoggedOutIsTerminal(t *testing.T) {
	a, s := newTestAdapter(true)
	a.handle(&events.Disconnected{})
	a.handle(&events.StreamReplaced{})
	a.handle(&events.LoggedOut{})

	var terminal int
	for _, l := range s.lifecycles {
		if l.Cause.Terminal() {
			terminal++
		}
	}
	if terminal != 1 {
		t.Errorf("terminal closes = %d, want 1", terminal)
	}
}

func TestLiveMessageWithDeviceSuffixNormalized(t *testing.T) {
	a, s := newTestAdapter(true)
	chat := types.JID{User: "558599999999", Server: types.DefaultUserServer, Device: 3}
	a.handle(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			ID:            "msg1",
			PushName:      "Maria",
			Timestamp:     time.UnixMilli(1700000000000),
		},
		Message: &waE2E.Message{Conversation: proto.String("oi")},
	})

	if len(s.events) != 2 {
		t.Fatalf("events = %d, want message + contact", len(s.events))
	}
	m, ok := s.events[0].(*ev.Message)
	if !ok {
		t.Fatalf("first event = %T, want *events.Message", s.events[0])
	}
	if m.ChatJID != "558599999999@s.whatsapp.net" || m.SenderJID != "558599999999@s.whatsapp.net" {
		t.Errorf("chat/sender = %q/%q, want device suffix stripped", m.ChatJID, m.SenderJID)
	}
	if m.Content != "oi" || m.History {
		t.Errorf("message = %+v", m)
	}

	cb, ok := s.events[1].(*ev.ContactBatch)
	if !ok || len(cb.Contacts) != 1 {
		t.Fatalf("second event = %T, want one-contact batch", s.events[1])
	}
	if name, _ := cb.Contacts[0].PushName.Get(); name != "Maria" {
		t.Errorf("push name = %q, want Maria", name)
	}
	if phone, _ := cb.Contacts[0].Phone.Get(); phone != "558599999999" {
		t.Errorf("phone = %q", phone)
	}
}

func TestFromMeMessageDoesNotEmitContact(t *testing.T) {
	a, s := newTestAdapter(true)
	me := types.NewJID("111", types.DefaultUserServer)
	a.handle(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: types.NewJID("222", types.DefaultUserServer), Sender: me, IsFromMe: true},
			ID:            "m1",
			PushName:      "Me",
		},
		Message: &waE2E.Message{Conversation: proto.String("hey")},
	})
	if len(s.events) != 1 {
		t.Errorf("events = %d, want 1", len(s.events))
	}
}

func TestHandleHistorySync(t *testing.T) {
	a, s := newTestAdapter(true)
	msgTS := uint64(1700000000)
	convTS := uint64(1700000100)
	a.handle(&events.HistorySync{
		Data: &waHistorySync.HistorySync{
			Progress: proto.Uint32(40),
			Conversations: []*waHistorySync.Conversation{
				{
					ID:                    proto.String("120363000000@g.us"),
					Name:                  proto.String("Family"),
					UnreadCount:           proto.Uint32(3),
					Archived:              proto.Bool(true),
					ConversationTimestamp: &convTS,
					Messages: []*waHistorySync.HistorySyncMsg{
						{
							Message: &waWeb.WebMessageInfo{
								Key: &waCommon.MessageKey{
									ID:          proto.String("hm1"),
									FromMe:      proto.Bool(false),
									RemoteJID:   proto.String("120363000000@g.us"),
									Participant: proto.String("5511888:2@s.whatsapp.net"),
								},
								MessageTimestamp: &msgTS,
								PushName:         proto.String("Tio"),
								Message:          &waE2E.Message{Conversation: proto.String("history msg")},
							},
						},
						{
							Message: &waWeb.WebMessageInfo{
								Key:     &waCommon.MessageKey{ID: proto.String("empty")},
								Message: nil,
							},
						},
					},
				},
				{ID: proto.String("")},
			},
			Pushnames: []*waHistorySync.Pushname{
				{ID: proto.String("5511888@s.whatsapp.net"), Pushname: proto.String("Tio")},
			},
		},
	})

	if len(s.events) != 1 {
		t.Fatalf("events = %d, want 1", len(s.events))
	}
	batch, ok := s.events[0].(*ev.HistoryBatch)
	if !ok {
		t.Fatalf("event = %T, want *events.HistoryBatch", s.events[0])
	}
	if batch.Progress != 40 {
		t.Errorf("progress = %d, want 40", batch.Progress)
	}
	if len(batch.Chats) != 1 {
		t.Fatalf("chats = %d, want 1", len(batch.Chats))
	}
	c := batch.Chats[0]
	if name, _ := c.Name.Get(); name != "Family" {
		t.Errorf("chat name = %q", name)
	}
	if n, _ := c.UnreadCount.Get(); n != 3 {
		t.Errorf("unread = %d, want 3", n)
	}
	if archived, _ := c.Archived.Get(); !archived {
		t.Error("chat should be archived")
	}
	if at, _ := c.LastMessageAt.Get(); at.Unix() != int64(convTS) {
		t.Errorf("last message at = %v", at)
	}

	if len(batch.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(batch.Messages))
	}
	m := batch.Messages[0]
	if !m.History || m.MsgID != "hm1" || m.Content != "history msg" {
		t.Errorf("message = %+v", m)
	}
	if m.SenderJID != "5511888@s.whatsapp.net" {
		t.Errorf("sender = %q, want device suffix stripped", m.SenderJID)
	}
	if m.Timestamp.Unix() != int64(msgTS) {
		t.Errorf("timestamp = %v", m.Timestamp)
	}
	if len(batch.Contacts) != 1 {
		t.Errorf("contacts = %d, want 1", len(batch.Contacts))
	}
}

func TestHistorySyncDroppedWhenReplayDisabled(t *testing.T) {
	a, s := newTestAdapter(false)
	a.handle(&events.HistorySync{Data: &waHistorySync.HistorySync{
		Conversations: []*waHistorySync.Conversation{{ID: proto.String("1@s.whatsapp.net")}},
	}})
	if len(s.events) != 0 {
		t.Errorf("events = %d, want none", len(s.events))
	}
}

func TestHandleHistorySyncNilData(t *testing.T) {
	a, s := newTestAdapter(true)
	// Should not panic on nil data.
	a.handle(&events.HistorySync{Data: nil})
	if len(s.events) != 0 {
		t.Errorf("events = %d, want none", len(s.events))
	}
}

func TestHandleAppStateEvents(t *testing.T) {
	chat := types.NewJID("5511777", types.DefaultUserServer)
	a, s := newTestAdapter(true)

	a.handle(&events.Archive{JID: chat, Action: &waSyncAction.ArchiveChatAction{Archived: proto.Bool(true)}})
	a.handle(&events.Pin{JID: chat, Action: &waSyncAction.PinAction{Pinned: proto.Bool(true)}})
	a.handle(&events.Mute{JID: chat, Action: &waSyncAction.MuteAction{Muted: proto.Bool(true), MuteEndTimestamp: proto.Int64(1700000000000)}})
	a.handle(&events.MarkChatAsRead{JID: chat, Action: &waSyncAction.MarkChatAsReadAction{Read: proto.Bool(true)}})
	a.handle(&events.MarkChatAsRead{JID: chat, Action: &waSyncAction.MarkChatAsReadAction{Read: proto.Bool(false)}})
	a.handle(&events.Star{ChatJID: chat, MessageID: "m1", Action: &waSyncAction.StarAction{Starred: proto.Bool(true)}})
	a.handle(&events.DeleteForMe{ChatJID: chat, MessageID: "m2"})

	if len(s.events) != 6 {
		t.Fatalf("events = %d, want 6 (mark unread ignored)", len(s.events))
	}
	if u := s.events[0].(*ev.ChatUpdate); !u.Archived.Or(false) {
		t.Error("archive not set")
	}
	if u := s.events[1].(*ev.ChatUpdate); !u.Pinned.Or(false) {
		t.Error("pin not set")
	}
	mute := s.events[2].(*ev.ChatUpdate)
	if until, ok := mute.MutedUntil.Get(); !ok || until.UnixMilli() != 1700000000000 {
		t.Errorf("muted until = %v", until)
	}
	if u := s.events[3].(*ev.ChatUpdate); !u.Read || u.JID != chat.String() {
		t.Errorf("read update = %+v", u)
	}
	if u := s.events[4].(*ev.MessageUpdate); u.Type != ev.UpdateStarred || !u.Starred {
		t.Errorf("star update = %+v", u)
	}
	if u := s.events[5].(*ev.MessageUpdate); u.Type != ev.UpdateDeleted || u.MsgID != "m2" {
		t.Errorf("delete update = %+v", u)
	}
}

func TestHandleContactEvents(t *testing.T) {
	jid := types.NewJID("5511666", types.DefaultUserServer)
	a, s := newTestAdapter(true)

	a.handle(&events.Contact{JID: jid, Action: &waSyncAction.ContactAction{FullName: proto.String("Ana Souza")}})
	a.handle(&events.PushName{JID: jid, NewPushName: "Ana"})
	a.handle(&events.BusinessName{JID: jid, NewBusinessName: "Ana Bakery"})
	a.handle(&events.Picture{JID: jid, PictureID: "pic-1"})
	a.handle(&events.Picture{JID: jid, Remove: true})

	if len(s.events) != 5 {
		t.Fatalf("events = %d, want 5", len(s.events))
	}
	contact := func(i int) ev.Contact { return s.events[i].(*ev.ContactBatch).Contacts[0] }
	if name, _ := contact(0).Name.Get(); name != "Ana Souza" {
		t.Errorf("name = %q", name)
	}
	if push, _ := contact(1).PushName.Get(); push != "Ana" {
		t.Errorf("push name = %q", push)
	}
	if !contact(2).IsBusiness.Or(false) {
		t.Error("business flag not set")
	}
	if pic, _ := contact(3).ProfilePicture.Get(); pic != "pic-1" {
		t.Errorf("picture = %q", pic)
	}
	if pic, ok := contact(4).ProfilePicture.Get(); !ok || pic != "" {
		t.Errorf("removed picture = %q, %v; want explicit empty", pic, ok)
	}
}

func TestHandleGroupEvents(t *testing.T) {
	group := types.NewJID("120363111", types.GroupServer)
	a, s := newTestAdapter(true)

	a.handle(&events.GroupInfo{JID: group, Name: &types.GroupName{Name: "Trip"}})
	a.handle(&events.JoinedGroup{GroupInfo: types.GroupInfo{
		JID:       group,
		GroupName: types.GroupName{Name: "Trip"},
		Participants: []types.GroupParticipant{
			{JID: types.JID{User: "5511555", Server: types.DefaultUserServer, Device: 1}},
		},
	}})

	if len(s.events) != 2 {
		t.Fatalf("events = %d, want 2", len(s.events))
	}
	info := s.events[0].(*ev.GroupUpdate)
	if name, _ := info.Name.Get(); name != "Trip" || info.Joined {
		t.Errorf("group info = %+v", info)
	}
	joined := s.events[1].(*ev.GroupUpdate)
	if !joined.Joined || len(joined.Participants) != 1 || joined.Participants[0] != "5511555@s.whatsapp.net" {
		t.Errorf("joined = %+v", joined)
	}
}

func TestHandleWithoutSinkDoesNotPanic(t *testing.T) {
	a := &Adapter{logger: zap.NewNop()}
	a.handle(&events.Connected{})
	a.handle(&events.Message{Message: &waE2E.Message{Conversation: proto.String("x")}})
}

// --- LID resolution regression tests ---
// WhatsApp uses LID JIDs like "3917077286968@lid" alongside phone number JIDs
// for the same user. Without resolution they show up as duplicate chats.

func TestResolveLIDNonLIDPassthrough(t *testing.T) {
	a := &Adapter{}
	pn := types.JID{User: "558592403672", Server: types.DefaultUserServer}
	if got := a.ResolveLID(context.Background(), pn); got != pn {
		t.Errorf("ResolveLID(pn) = %v, want %v", got, pn)
	}

	// Group JIDs should also pass through.
	group := types.JID{User: "120363123456", Server: "g.us"}
	if got := a.ResolveLID(context.Background(), group); got != group {
		t.Errorf("ResolveLID(group) = %v, want %v (should pass through)", got, group)
	}
}

func TestResolveLIDDetectsHiddenUserServer(t *testing.T) {
	a := &Adapter{}
	// Without a LID store the original JID comes back, but the detection
	// path for @lid is exercised.
	lid := types.JID{User: "3917077286968", Server: types.HiddenUserServer}
	if got := a.ResolveLID(context.Background(), lid); got != lid {
		t.Errorf("ResolveLID(lid, nil store) = %v, want %v", got, lid)
	}
}

func TestParseJID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"5511999999999", "5511999999999@s.whatsapp.net", false},
		{"+5511999999999", "5511999999999@s.whatsapp.net", false},
		{"120363@g.us", "120363@g.us", false},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := parseJID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseJID(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got.String() != tt.want {
			t.Errorf("parseJID(%q) = %q, want %q", tt.in, got.String(), tt.want)
		}
	}
}
