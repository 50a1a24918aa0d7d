// Package conn owns the single protocol session: connect, reconnect with
// backoff, logout, and the send/mutate operations gated on being connected.
package conn

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/wppagent/internal/events"
)

var (
	// ErrNotConnected is returned by every operation invoked outside CONNECTED.
	ErrNotConnected = errors.New("not connected")
	// ErrLoggedOut is returned by Connect after the session was logged out.
	// A restart is needed to pair again.
	ErrLoggedOut = errors.New("session logged out")
)

// ConnectOptions are fixed for the lifetime of one Connect call.
type ConnectOptions struct {
	HistoryReplay bool
}

// SendResult identifies a message accepted by the server.
type SendResult struct {
	MsgID     string
	Timestamp time.Time
}

// MediaUpload describes a local file to send.
type MediaUpload struct {
	Path     string
	Caption  string
	Filename string
}

// MediaSendResult extends SendResult with what was detected about the file.
type MediaSendResult struct {
	SendResult
	Type string
	Mime string
	Size int64
}

// Participant is a group member.
type Participant struct {
	JID     string
	IsAdmin bool
}

// GroupInfo is group metadata as reported by the server.
type GroupInfo struct {
	JID          string
	Name         string
	Topic        string
	CreatedAt    time.Time
	Participants []Participant
}

// ParticipantAction is a group membership change.
type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

// MessageRef addresses a stored message for mutations that need its
// direction and time as well as its id.
type MessageRef struct {
	ChatJID   string
	SenderJID string
	MsgID     string
	FromMe    bool
	Timestamp time.Time
}

// DeleteResult is returned for both delete-for-me and delete-for-everyone.
type DeleteResult struct {
	ChatJID     string
	MsgID       string
	ForEveryone bool
	DeletedAt   time.Time
}

// Protocol is the external messaging client. wa.Adapter implements it.
type Protocol interface {
	SetSink(s Sink)
	Connect(ctx context.Context, opts ConnectOptions) error
	Disconnect()
	Logout(ctx context.Context) error
	IsLoggedIn() bool
	OwnJID() string

	SendText(ctx context.Context, chat, text, replyTo string) (SendResult, error)
	SendMedia(ctx context.Context, chat string, m MediaUpload) (MediaSendResult, error)
	React(ctx context.Context, chat, sender, msgID, emoji string) error
	Revoke(ctx context.Context, chat, sender, msgID string) error
	DeleteForMe(ctx context.Context, ref MessageRef) error
	Edit(ctx context.Context, chat, msgID, content string) error
	Star(ctx context.Context, chat, sender, msgID string, fromMe, starred bool) error
	Archive(ctx context.Context, chat string, archived bool) error
	Pin(ctx context.Context, chat string, pinned bool) error
	Mute(ctx context.Context, chat string, muted bool, d time.Duration) error
	MarkRead(ctx context.Context, chat, sender string, msgIDs []string) error
	CreateGroup(ctx context.Context, name string, participants []string) (*GroupInfo, error)
	GroupInfo(ctx context.Context, jid string) (*GroupInfo, error)
	UpdateParticipants(ctx context.Context, group string, participants []string, action ParticipantAction) error
	SubscribePresence(ctx context.Context, jid string) error
	SendTyping(ctx context.Context, chat string, typing bool) error
	ProfilePictureURL(ctx context.Context, jid string) (string, error)
}

// Sink receives everything the protocol emits. The Manager implements it.
type Sink interface {
	HandleLifecycle(l Lifecycle)
	HandleEvent(e events.Event)
}

// LifecycleKind enumerates connection signals.
type LifecycleKind int

const (
	LifecycleQR LifecycleKind = iota
	LifecycleConnected
	LifecycleClosed
	LifecycleCredentialsChanged
)

// CloseCause classifies why a connection closed.
type CloseCause int

const (
	CauseNetwork CloseCause = iota
	CauseServerRestart
	CauseStreamError
	CauseConnectFailure
	CauseReplaced
	CauseLoggedOut
)

// Terminal reports whether the cause forbids reconnecting.
func (c CloseCause) Terminal() bool { return c == CauseLoggedOut }

func (c CloseCause) String() string {
	switch c {
	case CauseNetwork:
		return "network"
	case CauseServerRestart:
		return "server_restart"
	case CauseStreamError:
		return "stream_error"
	case CauseConnectFailure:
		return "connect_failure"
	case CauseReplaced:
		return "replaced"
	case CauseLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Lifecycle is a connection signal. QR is set for LifecycleQR, Cause and
// Reason for LifecycleClosed.
type Lifecycle struct {
	Kind   LifecycleKind
	QR     string
	Cause  CloseCause
	Reason string
}
