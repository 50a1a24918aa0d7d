// Package events defines the normalized events the protocol adapter emits
// and the ordered dispatcher that delivers them to observers.
package events

import (
	"time"

	"github.com/matheus3301/wppagent/internal/opt"
)

// Event kinds.
const (
	KindMessage       = "message"
	KindHistory       = "history"
	KindMessageUpdate = "message_update"
	KindReaction      = "reaction"
	KindChatUpdate    = "chat_update"
	KindContacts      = "contacts"
	KindGroupUpdate   = "group_update"
)

// Event is a normalized inbound event.
type Event interface {
	Kind() string
	meta() *Meta
	deliver(o Observer) error
}

// Meta is embedded in every event. ID is assigned on Push when empty.
type Meta struct {
	ID         string
	ReceivedAt time.Time
}

func (m *Meta) meta() *Meta { return m }

// EventID returns the id assigned to the event.
func (m *Meta) EventID() string { return m.ID }

// Media describes an attachment as announced by the remote side.
type Media struct {
	Type     string
	Mime     string
	Filename string
	Size     int64
}

// Message is a single chat message, live or replayed.
type Message struct {
	Meta
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	Content     string
	MessageType string
	Timestamp   time.Time
	FromMe      bool
	Forwarded   bool
	ReplyToID   string
	Media       *Media
	// History marks messages from a replay batch. They never count as unread.
	History bool
}

// Chat is partial chat metadata. Absent fields are left untouched.
type Chat struct {
	JID           string
	Name          opt.Opt[string]
	IsGroup       opt.Opt[bool]
	Archived      opt.Opt[bool]
	Pinned        opt.Opt[bool]
	Muted         opt.Opt[bool]
	MutedUntil    opt.Opt[time.Time]
	UnreadCount   opt.Opt[int]
	LastMessageAt opt.Opt[time.Time]
}

// Contact is partial contact metadata.
type Contact struct {
	JID            string
	Phone          opt.Opt[string]
	Name           opt.Opt[string]
	PushName       opt.Opt[string]
	BusinessName   opt.Opt[string]
	IsBusiness     opt.Opt[bool]
	ProfilePicture opt.Opt[string]
}

// HistoryBatch is one chunk of the initial backlog sent after linking.
type HistoryBatch struct {
	Meta
	Chats    []Chat
	Messages []Message
	Contacts []Contact
	Progress int
}

// UpdateType says what changed in a MessageUpdate.
type UpdateType string

const (
	UpdateEdited          UpdateType = "edited"
	UpdateDeleted         UpdateType = "deleted"
	UpdateStarred         UpdateType = "starred"
	UpdateMediaDownloaded UpdateType = "media_downloaded"
)

// MessageUpdate changes an already known message.
type MessageUpdate struct {
	Meta
	Type      UpdateType
	ChatJID   string
	MsgID     string
	Content   string
	Starred   bool
	MediaPath string
}

// Reaction sets or clears (empty Emoji) the reaction of Reactor on a message.
type Reaction struct {
	Meta
	ChatJID   string
	MsgID     string
	Reactor   string
	Emoji     string
	Timestamp time.Time
}

// ChatUpdate carries chat metadata. Read resets the unread counter.
type ChatUpdate struct {
	Meta
	Chat
	Read bool
}

// ContactBatch carries one or more contact updates.
type ContactBatch struct {
	Meta
	Contacts []Contact
}

// GroupUpdate reports group metadata changes or a newly joined group.
type GroupUpdate struct {
	Meta
	JID          string
	Name         opt.Opt[string]
	Topic        opt.Opt[string]
	Joined       bool
	Participants []string
}

func (*Message) Kind() string       { return KindMessage }
func (*HistoryBatch) Kind() string  { return KindHistory }
func (*MessageUpdate) Kind() string { return KindMessageUpdate }
func (*Reaction) Kind() string      { return KindReaction }
func (*ChatUpdate) Kind() string    { return KindChatUpdate }
func (*ContactBatch) Kind() string  { return KindContacts }
func (*GroupUpdate) Kind() string   { return KindGroupUpdate }

func (e *Message) deliver(o Observer) error       { return o.OnMessage(e) }
func (e *HistoryBatch) deliver(o Observer) error  { return o.OnHistory(e) }
func (e *MessageUpdate) deliver(o Observer) error { return o.OnMessageUpdate(e) }
func (e *Reaction) deliver(o Observer) error      { return o.OnReaction(e) }
func (e *ChatUpdate) deliver(o Observer) error    { return o.OnChatUpdate(e) }
func (e *ContactBatch) deliver(o Observer) error  { return o.OnContacts(e) }
func (e *GroupUpdate) deliver(o Observer) error   { return o.OnGroupUpdate(e) }

// Observer receives events in emission order, one at a time.
type Observer interface {
	OnMessage(*Message) error
	OnHistory(*HistoryBatch) error
	OnMessageUpdate(*MessageUpdate) error
	OnReaction(*Reaction) error
	OnChatUpdate(*ChatUpdate) error
	OnContacts(*ContactBatch) error
	OnGroupUpdate(*GroupUpdate) error
}

// NopObserver ignores everything. Embed it to implement only some methods.
type NopObserver struct{}

func (NopObserver) OnMessage(*Message) error             { return nil }
func (NopObserver) OnHistory(*HistoryBatch) error        { return nil }
func (NopObserver) OnMessageUpdate(*MessageUpdate) error { return nil }
func (NopObserver) OnReaction(*Reaction) error           { return nil }
func (NopObserver) OnChatUpdate(*ChatUpdate) error       { return nil }
func (NopObserver) OnContacts(*ContactBatch) error       { return nil }
func (NopObserver) OnGroupUpdate(*GroupUpdate) error     { return nil }
