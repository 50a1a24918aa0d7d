package conn

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wppagent/internal/events"
	"github.com/matheus3301/wppagent/internal/opt"
)

// Operations never queue: outside CONNECTED they fail with ErrNotConnected.
// Successful mutations are echoed into the event stream so the local store
// follows the same ordered write path as inbound events.

func (m *Manager) guard() error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SendText sends a text message, optionally quoting replyTo.
func (m *Manager) SendText(ctx context.Context, chat, text, replyTo string) (SendResult, error) {
	if err := m.guard(); err != nil {
		return SendResult{}, err
	}
	res, err := m.proto.SendText(ctx, chat, text, replyTo)
	if err != nil {
		return SendResult{}, fmt.Errorf("send text: %w", err)
	}
	m.HandleEvent(&events.Message{
		ChatJID:     chat,
		MsgID:       res.MsgID,
		SenderJID:   m.proto.OwnJID(),
		Content:     text,
		MessageType: "text",
		Timestamp:   res.Timestamp,
		FromMe:      true,
		ReplyToID:   replyTo,
	})
	return res, nil
}

// SendMedia uploads and sends a local file.
func (m *Manager) SendMedia(ctx context.Context, chat string, u MediaUpload) (MediaSendResult, error) {
	if err := m.guard(); err != nil {
		return MediaSendResult{}, err
	}
	res, err := m.proto.SendMedia(ctx, chat, u)
	if err != nil {
		return MediaSendResult{}, fmt.Errorf("send media: %w", err)
	}
	m.HandleEvent(&events.Message{
		ChatJID:     chat,
		MsgID:       res.MsgID,
		SenderJID:   m.proto.OwnJID(),
		Content:     u.Caption,
		MessageType: res.Type,
		Timestamp:   res.Timestamp,
		FromMe:      true,
		Media: &events.Media{
			Type:     res.Type,
			Mime:     res.Mime,
			Filename: u.Filename,
			Size:     res.Size,
		},
	})
	return res, nil
}

// React sets emoji as our reaction on a message. An empty emoji removes it.
func (m *Manager) React(ctx context.Context, chat, sender, msgID, emoji string) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.proto.React(ctx, chat, sender, msgID, emoji); err != nil {
		return fmt.Errorf("react: %w", err)
	}
	m.HandleEvent(&events.Reaction{
		ChatJID:   chat,
		MsgID:     msgID,
		Reactor:   m.proto.OwnJID(),
		Emoji:     emoji,
		Timestamp: time.Now(),
	})
	return nil
}

// DeleteMessage revokes a message for all participants or, without
// forEveryone, deletes it on our own devices. The local row is marked
// deleted only after the protocol accepted the change. Both forms report
// the same result.
func (m *Manager) DeleteMessage(ctx context.Context, ref MessageRef, forEveryone bool) (DeleteResult, error) {
	if err := m.guard(); err != nil {
		return DeleteResult{}, err
	}
	if forEveryone {
		if err := m.proto.Revoke(ctx, ref.ChatJID, ref.SenderJID, ref.MsgID); err != nil {
			return DeleteResult{}, fmt.Errorf("revoke: %w", err)
		}
	} else if err := m.proto.DeleteForMe(ctx, ref); err != nil {
		return DeleteResult{}, fmt.Errorf("delete for me: %w", err)
	}
	m.HandleEvent(&events.MessageUpdate{Type: events.UpdateDeleted, ChatJID: ref.ChatJID, MsgID: ref.MsgID})
	return DeleteResult{
		ChatJID:     ref.ChatJID,
		MsgID:       ref.MsgID,
		ForEveryone: forEveryone,
		DeletedAt:   time.Now(),
	}, nil
}

// Edit replaces the text of one of our messages.
func (m *Manager) Edit(ctx context.Context, chat, msgID, content string) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.proto.Edit(ctx, chat, msgID, content); err != nil {
		return fmt.Errorf("edit: %w", err)
	}
	m.HandleEvent(&events.MessageUpdate{Type: events.UpdateEdited, ChatJID: chat, MsgID: msgID, Content: content})
	return nil
}

// Star stars or unstars a message.
func (m *Manager) Star(ctx context.Context, chat, sender, msgID string, fromMe, starred bool) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.proto.Star(ctx, chat, sender, msgID, fromMe, starred); err != nil {
		return fmt.Errorf("star: %w", err)
	}
	m.HandleEvent(&events.MessageUpdate{Type: events.UpdateStarred, ChatJID: chat, MsgID: msgID, Starred: starred})
	return nil
}

func (m *Manager) Archive(ctx context.Context, chat string, archived bool) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.proto.Archive(ctx, chat, archived); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	m.HandleEvent(&events.ChatUpdate{Chat: events.Chat{JID: chat, Archived: opt.Some(archived)}})
	return nil
}

func (m *Manager) Pin(ctx context.Context, chat string, pinned bool) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.proto.Pin(ctx, chat, pinned); err != nil {
		return fmt.Errorf("pin: %w", err)
	}
	m.HandleEvent(&events.ChatUpdate{Chat: events.Chat{JID: chat, Pinned: opt.Some(pinned)}})
	return nil
}

// Mute silences a chat for d, or indefinitely when d is zero.
func (m *Manager) Mute(ctx context.Context, chat string, d time.Duration) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.proto.Mute(ctx, chat, true, d); err != nil {
		return fmt.Errorf("mute: %w", err)
	}
	c := events.Chat{JID: chat, Muted: opt.Some(true)}
	if d > 0 {
		c.MutedUntil = opt.Some(time.Now().Add(d))
	}
	m.HandleEvent(&events.ChatUpdate{Chat: c})
	return nil
}

func (m *Manager) Unmute(ctx context.Context, chat string) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.proto.Mute(ctx, chat, false, 0); err != nil {
		return fmt.Errorf("unmute: %w", err)
	}
	m.HandleEvent(&events.ChatUpdate{Chat: events.Chat{JID: chat, Muted: opt.Some(false)}})
	return nil
}

// MarkRead sends read receipts for msgIDs and resets the chat's unread count.
func (m *Manager) MarkRead(ctx context.Context, chat, sender string, msgIDs []string) error {
	if err := m.guard(); err != nil {
		return err
	}
	if len(msgIDs) > 0 {
		if err := m.proto.MarkRead(ctx, chat, sender, msgIDs); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
	}
	m.HandleEvent(&events.ChatUpdate{Chat: events.Chat{JID: chat}, Read: true})
	return nil
}

func (m *Manager) CreateGroup(ctx context.Context, name string, participants []string) (*GroupInfo, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	info, err := m.proto.CreateGroup(ctx, name, participants)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	m.HandleEvent(groupEvent(info, true))
	return info, nil
}

func (m *Manager) GroupInfo(ctx context.Context, jid string) (*GroupInfo, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	info, err := m.proto.GroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("group info: %w", err)
	}
	m.HandleEvent(groupEvent(info, false))
	return info, nil
}

func (m *Manager) UpdateParticipants(ctx context.Context, group string, participants []string, action ParticipantAction) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.proto.UpdateParticipants(ctx, group, participants, action); err != nil {
		return fmt.Errorf("update participants: %w", err)
	}
	return nil
}

func (m *Manager) SubscribePresence(ctx context.Context, jid string) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.proto.SubscribePresence(ctx, jid); err != nil {
		return fmt.Errorf("subscribe presence: %w", err)
	}
	return nil
}

func (m *Manager) SendTyping(ctx context.Context, chat string, typing bool) error {
	if err := m.guard(); err != nil {
		return err
	}
	if err := m.proto.SendTyping(ctx, chat, typing); err != nil {
		return fmt.Errorf("send typing: %w", err)
	}
	return nil
}

func (m *Manager) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	if err := m.guard(); err != nil {
		return "", err
	}
	url, err := m.proto.ProfilePictureURL(ctx, jid)
	if err != nil {
		return "", fmt.Errorf("profile picture: %w", err)
	}
	return url, nil
}

func groupEvent(info *GroupInfo, joined bool) *events.GroupUpdate {
	e := &events.GroupUpdate{JID: info.JID, Joined: joined}
	if info.Name != "" {
		e.Name = opt.Some(info.Name)
	}
	if info.Topic != "" {
		e.Topic = opt.Some(info.Topic)
	}
	for _, p := range info.Participants {
		e.Participants = append(e.Participants, p.JID)
	}
	return e
}
