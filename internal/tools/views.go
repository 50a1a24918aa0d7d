package tools

import (
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/matheus3301/wppagent/internal/store"
)

type chatView struct {
	JID                string `json:"jid"`
	Name               string `json:"name"`
	IsGroup            bool   `json:"is_group"`
	Archived           bool   `json:"archived,omitempty"`
	Pinned             bool   `json:"pinned,omitempty"`
	Muted              bool   `json:"muted,omitempty"`
	MutedUntil         string `json:"muted_until,omitempty"`
	UnreadCount        int    `json:"unread_count"`
	LastMessageAt      string `json:"last_message_at,omitempty"`
	LastMessagePreview string `json:"last_message_preview,omitempty"`
}

type mediaView struct {
	Type       string `json:"type"`
	Mime       string `json:"mime,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Path       string `json:"path,omitempty"`
	Downloaded bool   `json:"downloaded"`
}

type messageView struct {
	ChatJID    string              `json:"chat_jid"`
	ID         string              `json:"id"`
	Sender     string              `json:"sender,omitempty"`
	SenderName string              `json:"sender_name,omitempty"`
	Content    string              `json:"content,omitempty"`
	Type       string              `json:"type"`
	Timestamp  string              `json:"timestamp"`
	FromMe     bool                `json:"from_me"`
	Forwarded  bool                `json:"forwarded,omitempty"`
	Starred    bool                `json:"starred,omitempty"`
	Deleted    bool                `json:"deleted,omitempty"`
	Edited     bool                `json:"edited,omitempty"`
	ReplyTo    string              `json:"reply_to,omitempty"`
	Media      *mediaView          `json:"media,omitempty"`
	Reactions  map[string][]string `json:"reactions,omitempty"`
	Snippet    string              `json:"snippet,omitempty"`
	Distance   *float64            `json:"distance,omitempty"`
}

type contactView struct {
	JID          string `json:"jid"`
	Phone        string `json:"phone,omitempty"`
	Name         string `json:"name,omitempty"`
	PushName     string `json:"push_name,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
	IsBusiness   bool   `json:"is_business,omitempty"`
}

type scheduledView struct {
	ID          string `json:"id"`
	ChatJID     string `json:"chat_jid"`
	Content     string `json:"content,omitempty"`
	MediaPath   string `json:"media_path,omitempty"`
	ScheduledAt string `json:"scheduled_at"`
	Status      string `json:"status"`
	SentMsgID   string `json:"sent_msg_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func newChatView(c *store.Chat) chatView {
	return chatView{
		JID:                c.JID,
		Name:               c.Name,
		IsGroup:            c.IsGroup,
		Archived:           c.Archived,
		Pinned:             c.Pinned,
		Muted:              c.Muted,
		MutedUntil:         formatMillis(c.MutedUntil),
		UnreadCount:        c.UnreadCount,
		LastMessageAt:      formatMillis(c.LastMessageAt),
		LastMessagePreview: c.LastMessagePreview,
	}
}

func newMessageView(m *store.Message) messageView {
	v := messageView{
		ChatJID:    m.ChatJID,
		ID:         m.MsgID,
		Sender:     m.SenderJID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Type:       m.MessageType,
		Timestamp:  formatMillis(m.Timestamp),
		FromMe:     m.FromMe,
		Forwarded:  m.Forwarded,
		Starred:    m.Starred,
		Deleted:    m.Deleted,
		Edited:     m.Edited,
		ReplyTo:    m.ReplyToID,
		Reactions:  m.Reactions,
	}
	if md := m.Media; md != nil {
		v.Media = &mediaView{Type: md.Type, Mime: md.Mime, Filename: md.Filename, Size: md.Size, Path: md.Path, Downloaded: md.Downloaded}
	}
	return v
}

func newContactView(c *store.Contact) contactView {
	return contactView{
		JID:          c.JID,
		Phone:        c.Phone,
		Name:         c.Name,
		PushName:     c.PushName,
		BusinessName: c.BusinessName,
		IsBusiness:   c.IsBusiness,
	}
}

func newScheduledView(s *store.ScheduledMessage) scheduledView {
	return scheduledView{
		ID:          s.ID,
		ChatJID:     s.ChatJID,
		Content:     s.Content,
		MediaPath:   s.MediaPath,
		ScheduledAt: formatMillis(s.ScheduledAt),
		Status:      string(s.Status),
		SentMsgID:   s.SentMsgID,
		Error:       s.Error,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
