package store

import "github.com/matheus3301/wppagent/internal/opt"

// Chat represents a synced chat.
type Chat struct {
	JID                string
	Name               string
	IsGroup            bool
	Archived           bool
	Pinned             bool
	Muted              bool
	MutedUntil         int64
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// ChatUpsert is a partial chat write. Absent fields keep their stored value.
type ChatUpsert struct {
	JID                string
	Name               opt.Opt[string]
	IsGroup            opt.Opt[bool]
	Archived           opt.Opt[bool]
	Pinned             opt.Opt[bool]
	Muted              opt.Opt[bool]
	MutedUntil         opt.Opt[int64]
	UnreadCount        opt.Opt[int]
	LastMessageAt      opt.Opt[int64]
	LastMessagePreview opt.Opt[string]
}

// ChatFilter narrows ListChats.
type ChatFilter struct {
	Query    string
	Archived opt.Opt[bool]
	Pinned   opt.Opt[bool]
	IsGroup  opt.Opt[bool]
	Limit    int
	Offset   int
}

// Media describes a message attachment.
type Media struct {
	Type       string
	Mime       string
	Filename   string
	Size       int64
	Path       string
	Downloaded bool
}

// Message represents a synced message.
type Message struct {
	ID          int64
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	Content     string
	MessageType string
	Timestamp   int64
	FromMe      bool
	Forwarded   bool
	Starred     bool
	Deleted     bool
	Edited      bool
	ReplyToID   string
	Media       *Media
	Reactions   map[string][]string
}

// MessageUpsert is a partial message write keyed by (ChatJID, MsgID).
type MessageUpsert struct {
	ChatJID       string
	MsgID         string
	SenderJID     opt.Opt[string]
	SenderName    opt.Opt[string]
	Content       opt.Opt[string]
	MessageType   opt.Opt[string]
	Timestamp     opt.Opt[int64]
	FromMe        opt.Opt[bool]
	Forwarded     opt.Opt[bool]
	ReplyToID     opt.Opt[string]
	MediaType     opt.Opt[string]
	MediaMime     opt.Opt[string]
	MediaFilename opt.Opt[string]
	MediaSize     opt.Opt[int64]
}

// IngestResult reports where an ingested message landed.
type IngestResult struct {
	RowID    int64
	Inserted bool
}

// MessageFilter narrows ListMessages. Results are newest first.
type MessageFilter struct {
	ChatJID        string
	SenderJID      string
	Before         int64
	After          int64
	FromMe         opt.Opt[bool]
	Starred        opt.Opt[bool]
	ExcludeDeleted bool
	Limit          int
	Offset         int
}

// SearchFilter narrows SearchMessages.
type SearchFilter struct {
	ChatJID string
	Limit   int
	Offset  int
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}

// Contact represents a synced contact.
type Contact struct {
	JID            string
	Phone          string
	Name           string
	PushName       string
	BusinessName   string
	IsBusiness     bool
	ProfilePicture string
}

// ContactUpsert is a merge-only contact write.
type ContactUpsert struct {
	JID            string
	Phone          opt.Opt[string]
	Name           opt.Opt[string]
	PushName       opt.Opt[string]
	BusinessName   opt.Opt[string]
	IsBusiness     opt.Opt[bool]
	ProfilePicture opt.Opt[string]
}

// ScheduledStatus is the lifecycle state of a scheduled message.
type ScheduledStatus string

const (
	ScheduledPending   ScheduledStatus = "pending"
	ScheduledSent      ScheduledStatus = "sent"
	ScheduledFailed    ScheduledStatus = "failed"
	ScheduledCancelled ScheduledStatus = "cancelled"
)

// ScheduledMessage is an outbound message waiting for its send time.
type ScheduledMessage struct {
	ID          string
	ChatJID     string
	Content     string
	MediaPath   string
	ScheduledAt int64
	Status      ScheduledStatus
	ClaimedAt   int64
	SentMsgID   string
	Error       string
	CreatedAt   int64
	UpdatedAt   int64
}
