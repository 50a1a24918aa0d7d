package wa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/matheus3301/wppagent/internal/conn"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waSyncAction"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Options configures the adapter.
type Options struct {
	// DBPath is the plaintext whatsmeow session database.
	DBPath string
	// MediaDir receives attachments when AutoDownload is set.
	MediaDir     string
	AutoDownload bool
	// Log receives whatsmeow's own logs.
	Log waLog.Logger
}

// Adapter implements conn.Protocol on top of whatsmeow.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger
	opts      Options

	mu       sync.RWMutex
	sink     conn.Sink
	qrCancel context.CancelFunc

	historyReplay atomic.Bool
}

var _ conn.Protocol = (*Adapter)(nil)

// NewAdapter opens the session store. Credentials must already be restored
// to opts.DBPath.
func NewAdapter(ctx context.Context, opts Options, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Log == nil {
		opts.Log = waLog.Noop
	}
	// Set device name shown on the phone's linked devices list.
	wastore.SetOSInfo("wppagent", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", opts.DBPath),
		opts.Log.Sub("Database"),
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, opts.Log.Sub("Client"))
	// reconnects are scheduled by conn.Manager
	client.EnableAutoReconnect = false

	a := &Adapter{
		client:    client,
		container: container,
		logger:    logger,
		opts:      opts,
	}
	client.AddEventHandler(a.handle)
	return a, nil
}

// SetSink implements conn.Protocol.
func (a *Adapter) SetSink(s conn.Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = s
}

func (a *Adapter) getSink() conn.Sink {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sink
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// OwnJID returns our own user JID, or empty before pairing.
func (a *Adapter) OwnJID() string {
	if a.client == nil || a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.ToNonAD().String()
}

// Connect initiates the WhatsApp connection. Unpaired sessions stream QR
// codes to the sink until pairing succeeds or times out.
func (a *Adapter) Connect(ctx context.Context, opts conn.ConnectOptions) error {
	a.historyReplay.Store(opts.HistoryReplay)
	wastore.DeviceProps.RequireFullSync = proto.Bool(opts.HistoryReplay)

	if !a.IsLoggedIn() {
		if err := a.startPairing(); err != nil {
			return err
		}
	}
	a.logger.Info("connecting to WhatsApp", zap.Bool("history_replay", opts.HistoryReplay))
	if err := a.client.Connect(); err != nil {
		a.stopPairing()
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.stopPairing()
	a.client.Disconnect()
}

// Close releases the session database so the plaintext file can be
// encrypted and removed.
func (a *Adapter) Close() error {
	return a.container.Close()
}

// Logout unlinks this device on the server and drops the local device keys.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// SendText sends a text message, quoting replyTo when set.
func (a *Adapter) SendText(ctx context.Context, chat, text, replyTo string) (conn.SendResult, error) {
	to, err := parseJID(chat)
	if err != nil {
		return conn.SendResult{}, err
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if replyTo != "" {
		msg = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: &waE2E.ContextInfo{StanzaID: proto.String(replyTo)},
		}}
	}
	return a.send(ctx, to, msg)
}

// SendMedia uploads a local file and sends it as image, video, audio or
// document depending on its sniffed type.
func (a *Adapter) SendMedia(ctx context.Context, chat string, u conn.MediaUpload) (conn.MediaSendResult, error) {
	to, err := parseJID(chat)
	if err != nil {
		return conn.MediaSendResult{}, err
	}
	data, err := os.ReadFile(u.Path)
	if err != nil {
		return conn.MediaSendResult{}, fmt.Errorf("read media: %w", err)
	}
	mime := mimetype.Detect(data).String()
	kind, waType := mediaKind(mime)

	up, err := a.client.Upload(ctx, data, waType)
	if err != nil {
		return conn.MediaSendResult{}, fmt.Errorf("upload media: %w", err)
	}
	filename := u.Filename
	if filename == "" {
		filename = filepath.Base(u.Path)
	}
	msg := buildMediaMessage(kind, mime, filename, u.Caption, up)

	res, err := a.send(ctx, to, msg)
	if err != nil {
		return conn.MediaSendResult{}, err
	}
	return conn.MediaSendResult{SendResult: res, Type: kind, Mime: mime, Size: int64(up.FileLength)}, nil
}

func (a *Adapter) send(ctx context.Context, to types.JID, msg *waE2E.Message) (conn.SendResult, error) {
	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return conn.SendResult{}, fmt.Errorf("send message: %w", err)
	}
	return conn.SendResult{MsgID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// React reacts to a message. An empty sender means our own message.
func (a *Adapter) React(ctx context.Context, chat, sender, msgID, emoji string) error {
	to, from, err := parseChatSender(chat, sender)
	if err != nil {
		return err
	}
	_, err = a.send(ctx, to, a.client.BuildReaction(to, from, msgID, emoji))
	return err
}

// Revoke deletes a message for everyone.
func (a *Adapter) Revoke(ctx context.Context, chat, sender, msgID string) error {
	to, from, err := parseChatSender(chat, sender)
	if err != nil {
		return err
	}
	_, err = a.send(ctx, to, a.client.BuildRevoke(to, from, msgID))
	return err
}

// DeleteForMe removes a message from our own devices through the
// regular_high app state collection.
func (a *Adapter) DeleteForMe(ctx context.Context, ref conn.MessageRef) error {
	to, from, err := parseChatSender(ref.ChatJID, ref.SenderJID)
	if err != nil {
		return err
	}
	return a.client.SendAppState(ctx, buildDeleteForMe(to, from, ref.MsgID, ref.FromMe, ref.Timestamp))
}

// buildDeleteForMe mirrors appstate.BuildStar's index layout: chat, id,
// from-me flag, then the participant, which is "0" outside groups and for
// our own messages.
func buildDeleteForMe(chat, sender types.JID, msgID string, fromMe bool, sentAt time.Time) appstate.PatchInfo {
	isFromMe, participant := "0", "0"
	if fromMe {
		isFromMe = "1"
	} else if chat.Server == types.GroupServer && !sender.IsEmpty() {
		participant = sender.String()
	}
	return appstate.PatchInfo{
		Type: appstate.WAPatchRegularHigh,
		Mutations: []appstate.MutationInfo{{
			Index:   []string{appstate.IndexDeleteMessageForMe, chat.String(), msgID, isFromMe, participant},
			Version: 3,
			Value: &waSyncAction.SyncActionValue{
				DeleteMessageForMeAction: &waSyncAction.DeleteMessageForMeAction{
					DeleteMedia:      proto.Bool(true),
					MessageTimestamp: proto.Int64(sentAt.Unix()),
				},
			},
		}},
	}
}

// Edit replaces the text of one of our messages.
func (a *Adapter) Edit(ctx context.Context, chat, msgID, content string) error {
	to, err := parseJID(chat)
	if err != nil {
		return err
	}
	edit := a.client.BuildEdit(to, msgID, &waE2E.Message{Conversation: proto.String(content)})
	_, err = a.send(ctx, to, edit)
	return err
}

func (a *Adapter) Star(ctx context.Context, chat, sender, msgID string, fromMe, starred bool) error {
	to, from, err := parseChatSender(chat, sender)
	if err != nil {
		return err
	}
	return a.client.SendAppState(ctx, appstate.BuildStar(to, from, msgID, fromMe, starred))
}

func (a *Adapter) Archive(ctx context.Context, chat string, archived bool) error {
	to, err := parseJID(chat)
	if err != nil {
		return err
	}
	return a.client.SendAppState(ctx, appstate.BuildArchive(to, archived, time.Time{}, nil))
}

func (a *Adapter) Pin(ctx context.Context, chat string, pinned bool) error {
	to, err := parseJID(chat)
	if err != nil {
		return err
	}
	return a.client.SendAppState(ctx, appstate.BuildPin(to, pinned))
}

func (a *Adapter) Mute(ctx context.Context, chat string, muted bool, d time.Duration) error {
	to, err := parseJID(chat)
	if err != nil {
		return err
	}
	return a.client.SendAppState(ctx, appstate.BuildMute(to, muted, d))
}

func (a *Adapter) MarkRead(ctx context.Context, chat, sender string, msgIDs []string) error {
	to, from, err := parseChatSender(chat, sender)
	if err != nil {
		return err
	}
	return a.client.MarkRead(ctx, msgIDs, time.Now(), to, from)
}

func (a *Adapter) CreateGroup(ctx context.Context, name string, participants []string) (*conn.GroupInfo, error) {
	jids, err := parseJIDs(participants)
	if err != nil {
		return nil, err
	}
	info, err := a.client.CreateGroup(ctx, whatsmeow.ReqCreateGroup{Name: name, Participants: jids})
	if err != nil {
		return nil, err
	}
	return a.groupInfo(info), nil
}

func (a *Adapter) GroupInfo(ctx context.Context, jid string) (*conn.GroupInfo, error) {
	group, err := parseJID(jid)
	if err != nil {
		return nil, err
	}
	info, err := a.client.GetGroupInfo(ctx, group)
	if err != nil {
		return nil, err
	}
	return a.groupInfo(info), nil
}

var participantChanges = map[conn.ParticipantAction]whatsmeow.ParticipantChange{
	conn.ParticipantAdd:     whatsmeow.ParticipantChangeAdd,
	conn.ParticipantRemove:  whatsmeow.ParticipantChangeRemove,
	conn.ParticipantPromote: whatsmeow.ParticipantChangePromote,
	conn.ParticipantDemote:  whatsmeow.ParticipantChangeDemote,
}

func (a *Adapter) UpdateParticipants(ctx context.Context, group string, participants []string, action conn.ParticipantAction) error {
	change, ok := participantChanges[action]
	if !ok {
		return fmt.Errorf("unknown participant action %q", action)
	}
	g, err := parseJID(group)
	if err != nil {
		return err
	}
	jids, err := parseJIDs(participants)
	if err != nil {
		return err
	}
	_, err = a.client.UpdateGroupParticipants(ctx, g, jids, change)
	return err
}

func (a *Adapter) SubscribePresence(ctx context.Context, jid string) error {
	j, err := parseJID(jid)
	if err != nil {
		return err
	}
	return a.client.SubscribePresence(ctx, j)
}

func (a *Adapter) SendTyping(ctx context.Context, chat string, typing bool) error {
	to, err := parseJID(chat)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	return a.client.SendChatPresence(ctx, to, state, types.ChatPresenceMediaText)
}

// ProfilePictureURL returns the preview picture URL, or empty when unset.
func (a *Adapter) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	j, err := parseJID(jid)
	if err != nil {
		return "", err
	}
	info, err := a.client.GetProfilePictureInfo(ctx, j, &whatsmeow.GetProfilePictureParams{Preview: true})
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", nil
	}
	return info.URL, nil
}

func (a *Adapter) groupInfo(info *types.GroupInfo) *conn.GroupInfo {
	g := &conn.GroupInfo{
		JID:       info.JID.ToNonAD().String(),
		Name:      info.Name,
		Topic:     info.Topic,
		CreatedAt: info.GroupCreated,
	}
	for _, p := range info.Participants {
		g.Participants = append(g.Participants, conn.Participant{
			JID:     a.jid(p.JID),
			IsAdmin: p.IsAdmin || p.IsSuperAdmin,
		})
	}
	return g
}

// jid normalizes a JID for storage: LIDs resolved to phone numbers when
// known, device suffix stripped.
func (a *Adapter) jid(j types.JID) string {
	if j.IsEmpty() {
		return ""
	}
	return a.ResolveLID(context.Background(), j).ToNonAD().String()
}

// ResolveLID resolves a LID JID to its phone number JID using the device store mapping.
// Returns the original JID if it's not a LID or if resolution fails.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}

func parseJID(s string) (types.JID, error) {
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return types.JID{}, fmt.Errorf("parse JID: empty")
	}
	if !strings.Contains(s, "@") {
		// bare phone number
		return types.NewJID(s, types.DefaultUserServer), nil
	}
	j, err := types.ParseJID(s)
	if err != nil {
		return types.JID{}, fmt.Errorf("parse JID %q: %w", s, err)
	}
	return j, nil
}

func parseJIDs(ss []string) ([]types.JID, error) {
	out := make([]types.JID, 0, len(ss))
	for _, s := range ss {
		j, err := parseJID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// parseChatSender parses a chat and an optional sender. An empty sender
// stands for ourselves.
func parseChatSender(chat, sender string) (types.JID, types.JID, error) {
	to, err := parseJID(chat)
	if err != nil {
		return types.JID{}, types.JID{}, err
	}
	if sender == "" {
		return to, types.EmptyJID, nil
	}
	from, err := parseJID(sender)
	if err != nil {
		return types.JID{}, types.JID{}, err
	}
	return to, from, nil
}
