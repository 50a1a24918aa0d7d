package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppagent/internal/bus"
	"github.com/matheus3301/wppagent/internal/events"
	"github.com/matheus3301/wppagent/internal/status"
)

type fakeProtocol struct {
	sink         Sink
	connectErr   error
	connects     int
	disconnect   int
	logouts      int
	revokes      int
	deletedForMe []MessageRef
	sent         []string
}

func (f *fakeProtocol) SetSink(s Sink) { f.sink = s }
func (f *fakeProtocol) Connect(ctx context.Context, opts ConnectOptions) error {
	f.connects++
	return f.connectErr
}
func (f *fakeProtocol) Disconnect()                      { f.disconnect++ }
func (f *fakeProtocol) Logout(ctx context.Context) error { f.logouts++; return nil }
func (f *fakeProtocol) IsLoggedIn() bool                 { return f.logouts == 0 }
func (f *fakeProtocol) OwnJID() string                   { return "me@s.whatsapp.net" }
func (f *fakeProtocol) SendText(ctx context.Context, chat, text, replyTo string) (SendResult, error) {
	f.sent = append(f.sent, text)
	return SendResult{MsgID: "out-1", Timestamp: time.UnixMilli(1000)}, nil
}
func (f *fakeProtocol) SendMedia(ctx context.Context, chat string, u MediaUpload) (MediaSendResult, error) {
	return MediaSendResult{SendResult: SendResult{MsgID: "out-2"}, Type: "image", Mime: "image/png"}, nil
}
func (f *fakeProtocol) React(ctx context.Context, chat, sender, msgID, emoji string) error {
	return nil
}
func (f *fakeProtocol) Revoke(ctx context.Context, chat, sender, msgID string) error {
	f.revokes++
	return nil
}
func (f *fakeProtocol) DeleteForMe(ctx context.Context, ref MessageRef) error {
	f.deletedForMe = append(f.deletedForMe, ref)
	return nil
}
func (f *fakeProtocol) Edit(ctx context.Context, chat, msgID, content string) error { return nil }
func (f *fakeProtocol) Star(ctx context.Context, chat, sender, msgID string, fromMe, starred bool) error {
	return nil
}
func (f *fakeProtocol) Archive(ctx context.Context, chat string, archived bool) error { return nil }
func (f *fakeProtocol) Pin(ctx context.Context, chat string, pinned bool) error       { return nil }
func (f *fakeProtocol) Mute(ctx context.Context, chat string, muted bool, d time.Duration) error {
	return nil
}
func (f *fakeProtocol) MarkRead(ctx context.Context, chat, sender string, ids []string) error {
	return nil
}
func (f *fakeProtocol) CreateGroup(ctx context.Context, name string, participants []string) (*GroupInfo, error) {
	return &GroupInfo{JID: "123@g.us", Name: name}, nil
}
func (f *fakeProtocol) GroupInfo(ctx context.Context, jid string) (*GroupInfo, error) {
	return &GroupInfo{JID: jid}, nil
}
func (f *fakeProtocol) UpdateParticipants(ctx context.Context, group string, p []string, a ParticipantAction) error {
	return nil
}
func (f *fakeProtocol) SubscribePresence(ctx context.Context, jid string) error        { return nil }
func (f *fakeProtocol) SendTyping(ctx context.Context, chat string, typing bool) error { return nil }
func (f *fakeProtocol) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	return "https://pps.example/pic.jpg", nil
}

type fakeVault struct {
	mu         sync.Mutex
	persists   int
	persistErr error
	erased     bool
	zeroed     bool
}

func (v *fakeVault) Persist() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.persists++
	return v.persistErr
}

func (v *fakeVault) persistCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.persists
}
func (v *fakeVault) Erase() error   { v.erased = true; return nil }
func (v *fakeVault) Zero()          { v.zeroed = true }

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool { t.stopped = true; return true }

type recordingObserver struct {
	events.NopObserver
	mu       sync.Mutex
	messages []*events.Message
	updates  []*events.MessageUpdate
}

func (r *recordingObserver) OnMessage(m *events.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return nil
}

func (r *recordingObserver) OnMessageUpdate(u *events.MessageUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

type harness struct {
	m      *Manager
	proto  *fakeProtocol
	vault  *fakeVault
	bus    *bus.Bus
	disp   *events.Dispatcher
	timers []*fakeTimer
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()
	h := &harness{
		proto: &fakeProtocol{},
		vault: &fakeVault{},
		bus:   bus.New(),
		disp:  events.NewDispatcher(nil),
	}
	cfg := Config{
		HistoryReplay: true,
		Backoff:       Backoff{Base: time.Second, Max: time.Minute},
		MaxAttempts:   maxAttempts,
	}
	h.m = NewManager(h.proto, h.vault, h.disp, h.bus, nil, cfg, nil)
	h.m.afterFunc = func(d time.Duration, f func()) stopper {
		ft := &fakeTimer{delay: d, fn: f}
		h.timers = append(h.timers, ft)
		return ft
	}
	t.Cleanup(h.disp.Close)
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleConnected})
	if h.m.State() != status.Connected {
		t.Fatalf("state = %s, want CONNECTED", h.m.State())
	}
}

func expectEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		if evt.Kind != kind {
			t.Fatalf("event kind = %q, want %q", evt.Kind, kind)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %s", kind)
	}
	return bus.Event{}
}

func TestOperationsRequireConnection(t *testing.T) {
	h := newHarness(t, 3)

	if _, err := h.m.SendText(context.Background(), "c1@s.whatsapp.net", "hi", ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendText err = %v, want ErrNotConnected", err)
	}
	if _, err := h.m.DeleteMessage(context.Background(), MessageRef{ChatJID: "c1", MsgID: "m1"}, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("DeleteMessage err = %v, want ErrNotConnected", err)
	}
	if err := h.m.Archive(context.Background(), "c1", true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Archive err = %v, want ErrNotConnected", err)
	}
	if _, err := h.m.CreateGroup(context.Background(), "g", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CreateGroup err = %v, want ErrNotConnected", err)
	}
	if len(h.proto.sent) != 0 || h.proto.revokes != 0 {
		t.Error("protocol should not be called while disconnected")
	}

	// still refused while connecting
	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.m.React(context.Background(), "c1", "", "m1", "👍"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("React while connecting err = %v, want ErrNotConnected", err)
	}
}

func TestSendTextEchoesIntoEventStream(t *testing.T) {
	h := newHarness(t, 3)
	obs := &recordingObserver{}
	h.m.Subscribe(obs)
	h.connect(t)

	res, err := h.m.SendText(context.Background(), "c1@s.whatsapp.net", "hello", "")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if res.MsgID != "out-1" {
		t.Errorf("MsgID = %q, want out-1", res.MsgID)
	}
	h.disp.Close()

	if len(obs.messages) != 1 {
		t.Fatalf("echoed messages = %d, want 1", len(obs.messages))
	}
	m := obs.messages[0]
	if !m.FromMe || m.Content != "hello" || m.SenderJID != "me@s.whatsapp.net" {
		t.Errorf("echo = %+v", m)
	}
}

func TestRecoverableCloseSchedulesOneRetry(t *testing.T) {
	h := newHarness(t, 5)
	h.connect(t)

	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleClosed, Cause: CauseNetwork})
	if h.m.State() != status.Disconnected {
		t.Fatalf("state = %s, want DISCONNECTED", h.m.State())
	}
	droppedAt := h.m.StateSince()
	// a second close while already disconnected must not add a timer
	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleClosed, Cause: CauseServerRestart})

	if len(h.timers) != 1 {
		t.Fatalf("timers = %d, want 1", len(h.timers))
	}
	if h.timers[0].delay != time.Second {
		t.Errorf("delay = %v, want 1s", h.timers[0].delay)
	}
	if h.m.Attempts() != 1 {
		t.Errorf("attempts = %d, want 1", h.m.Attempts())
	}
	if !h.m.StateSince().Equal(droppedAt) {
		t.Errorf("state_since moved without a transition")
	}

	h.timers[0].fn()
	if h.proto.connects != 2 {
		t.Errorf("connects = %d, want 2", h.proto.connects)
	}
	if h.m.State() != status.Connecting {
		t.Errorf("state = %s, want CONNECTING", h.m.State())
	}

	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleConnected})
	if h.m.Attempts() != 0 {
		t.Errorf("attempts after connected = %d, want 0", h.m.Attempts())
	}
}

func TestReconnectCapFiresFailedOnce(t *testing.T) {
	h := newHarness(t, 3)
	ch, unsub := h.bus.Subscribe("conn.failed", 10)
	defer unsub()

	h.proto.connectErr = errors.New("dial tcp: no route to host")
	if err := h.m.Connect(context.Background()); err == nil {
		t.Fatal("Connect should report the dial error")
	}

	for i := 0; i < len(h.timers); i++ {
		h.timers[i].fn()
	}
	if len(h.timers) != 3 {
		t.Fatalf("timers = %d, want 3", len(h.timers))
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, tm := range h.timers {
		if tm.delay != want[i] {
			t.Errorf("timer %d delay = %v, want %v", i, tm.delay, want[i])
		}
	}
	if !h.m.Failed() {
		t.Error("manager should report failed")
	}
	expectEvent(t, ch, "conn.failed")

	// another failed dial after exhaustion schedules nothing and stays quiet
	h.m.retry()
	if len(h.timers) != 3 {
		t.Errorf("timers = %d after exhaustion, want 3", len(h.timers))
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected second event %q", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoggedOutCloseIsTerminal(t *testing.T) {
	h := newHarness(t, 5)
	ch, unsub := h.bus.Subscribe("conn.logged_out", 10)
	defer unsub()
	h.connect(t)

	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleClosed, Cause: CauseLoggedOut})
	if len(h.timers) != 0 {
		t.Errorf("timers = %d, want none", len(h.timers))
	}
	if h.m.Attempts() != 0 {
		t.Errorf("attempts = %d, want 0", h.m.Attempts())
	}
	if h.vault.persistCount() != 1 {
		t.Errorf("persists = %d, want 1", h.vault.persistCount())
	}
	expectEvent(t, ch, "conn.logged_out")

	if err := h.m.Connect(context.Background()); !errors.Is(err, ErrLoggedOut) {
		t.Errorf("Connect err = %v, want ErrLoggedOut", err)
	}
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, 5)
	h.connect(t)
	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleClosed, Cause: CauseStreamError})
	if len(h.timers) != 1 {
		t.Fatalf("timers = %d, want 1", len(h.timers))
	}

	h.m.Disconnect()
	if !h.timers[0].stopped {
		t.Error("pending timer not stopped")
	}
	if h.m.State() != status.Idle {
		t.Errorf("state = %s, want IDLE", h.m.State())
	}

	// a timer that already fired must not reconnect
	h.timers[0].fn()
	if h.proto.connects != 1 {
		t.Errorf("connects = %d, want 1", h.proto.connects)
	}
}

func TestCredentialsChangedPersists(t *testing.T) {
	h := newHarness(t, 5)
	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleCredentialsChanged})
	if h.vault.persistCount() != 1 {
		t.Errorf("persists = %d, want 1", h.vault.persistCount())
	}

	h.vault.persistErr = errors.New("disk full")
	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleCredentialsChanged})
	h.vault.persistErr = nil
	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleCredentialsChanged})
	if h.vault.persistCount() != 3 {
		t.Errorf("persists = %d, want 3", h.vault.persistCount())
	}
}

func TestFlushPersistsWhileConnected(t *testing.T) {
	h := newHarness(t, 5)
	h.m.cfg.FlushEvery = 5 * time.Millisecond
	h.connect(t)

	deadline := time.After(2 * time.Second)
	for h.vault.persistCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("persists = %d after 2s, want periodic flushes", h.vault.persistCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	h.m.Disconnect()
	settled := h.vault.persistCount()
	time.Sleep(50 * time.Millisecond)
	// one tick may already have been past the connected check
	if n := h.vault.persistCount(); n > settled+1 {
		t.Errorf("persists grew from %d to %d after Disconnect", settled, n)
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t, 5)
	h.connect(t)

	if err := h.m.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if h.proto.logouts != 1 {
		t.Errorf("logouts = %d, want 1", h.proto.logouts)
	}
	if !h.vault.erased || !h.vault.zeroed {
		t.Errorf("vault erased=%v zeroed=%v, want both", h.vault.erased, h.vault.zeroed)
	}
	if h.m.State() != status.Idle {
		t.Errorf("state = %s, want IDLE", h.m.State())
	}
	if err := h.m.Connect(context.Background()); !errors.Is(err, ErrLoggedOut) {
		t.Errorf("Connect err = %v, want ErrLoggedOut", err)
	}

	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleCredentialsChanged})
	if h.vault.persistCount() != 0 {
		t.Errorf("persists after erase = %d, want 0", h.vault.persistCount())
	}
}

func TestQRIsSideChannel(t *testing.T) {
	h := newHarness(t, 5)
	ch, unsub := h.bus.Subscribe("conn.qr", 10)
	defer unsub()

	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleQR, QR: "code-1"})
	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleQR, QR: "code-2"})

	if h.m.State() != status.Connecting {
		t.Errorf("state = %s, want CONNECTING", h.m.State())
	}
	if h.m.LastQR() != "code-2" {
		t.Errorf("LastQR = %q, want code-2", h.m.LastQR())
	}
	expectEvent(t, ch, "conn.qr")
	expectEvent(t, ch, "conn.qr")

	h.proto.sink.HandleLifecycle(Lifecycle{Kind: LifecycleConnected})
	if h.m.LastQR() != "" {
		t.Errorf("LastQR after connect = %q, want empty", h.m.LastQR())
	}
}

func TestDeleteMessageUnifiedResult(t *testing.T) {
	h := newHarness(t, 5)
	obs := &recordingObserver{}
	h.m.Subscribe(obs)
	h.connect(t)

	sent := time.UnixMilli(5000)
	mine, err := h.m.DeleteMessage(context.Background(), MessageRef{ChatJID: "c1@s.whatsapp.net", MsgID: "m1", FromMe: true, Timestamp: sent}, false)
	if err != nil {
		t.Fatal(err)
	}
	all, err := h.m.DeleteMessage(context.Background(), MessageRef{ChatJID: "c1@s.whatsapp.net", MsgID: "m2"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if h.proto.revokes != 1 {
		t.Errorf("revokes = %d, want 1", h.proto.revokes)
	}
	if len(h.proto.deletedForMe) != 1 {
		t.Fatalf("delete-for-me calls = %d, want 1", len(h.proto.deletedForMe))
	}
	if ref := h.proto.deletedForMe[0]; ref.MsgID != "m1" || !ref.FromMe || !ref.Timestamp.Equal(sent) {
		t.Errorf("delete-for-me ref = %+v", ref)
	}
	if mine.ForEveryone || !all.ForEveryone {
		t.Errorf("ForEveryone = %v/%v, want false/true", mine.ForEveryone, all.ForEveryone)
	}
	if mine.MsgID != "m1" || all.MsgID != "m2" || mine.DeletedAt.IsZero() {
		t.Errorf("results = %+v / %+v", mine, all)
	}

	h.disp.Close()
	if len(obs.updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(obs.updates))
	}
	for _, u := range obs.updates {
		if u.Type != events.UpdateDeleted {
			t.Errorf("update type = %s, want deleted", u.Type)
		}
	}
}
