package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/matheus3301/wppagent/internal/conn"
	"github.com/matheus3301/wppagent/internal/opt"
	"github.com/matheus3301/wppagent/internal/store"
)

type sentView struct {
	ChatJID   string `json:"chat_jid"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type,omitempty"`
	Mime      string `json:"mime,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

type okView struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// target resolves the stored message a mutation refers to, which supplies
// its sender and direction.
func (t *Tools) target(req mcp.CallToolRequest) (*store.Message, error) {
	chat, err := chatArg(req, "chat_jid")
	if err != nil {
		return nil, err
	}
	id, err := requireString(req, "message_id")
	if err != nil {
		return nil, err
	}
	m, err := t.DB.GetMessage(chat, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("message %s not found in %s", id, chat)
	}
	return m, nil
}

func (t *Tools) sendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chat, err := chatArg(req, "chat_jid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := requireString(req, "text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := t.Conn.SendText(ctx, chat, text, argString(req, "reply_to"))
	if err != nil {
		return nil, err
	}
	return jsonResult(sentView{ChatJID: chat, ID: res.MsgID, Timestamp: res.Timestamp.UTC().Format(time.RFC3339)})
}

func (t *Tools) sendMedia(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chat, err := chatArg(req, "chat_jid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := requireString(req, "path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read file %s", path)), nil
	}
	filename := argString(req, "filename")
	if filename == "" {
		filename = filepath.Base(path)
	}
	res, err := t.Conn.SendMedia(ctx, chat, conn.MediaUpload{Path: path, Caption: argString(req, "caption"), Filename: filename})
	if err != nil {
		return nil, err
	}
	return jsonResult(sentView{
		ChatJID:   chat,
		ID:        res.MsgID,
		Timestamp: res.Timestamp.UTC().Format(time.RFC3339),
		Type:      res.Type,
		Mime:      res.Mime,
		Size:      res.Size,
	})
}

func (t *Tools) react(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := t.target(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	emoji := argString(req, "emoji")
	if err := t.Conn.React(ctx, m.ChatJID, m.SenderJID, m.MsgID, emoji); err != nil {
		return nil, err
	}
	if emoji == "" {
		return jsonResult(okView{Success: true, Message: "reaction removed"})
	}
	return jsonResult(okView{Success: true})
}

func (t *Tools) editMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := t.target(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := requireString(req, "text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !m.FromMe {
		return mcp.NewToolResultError("only your own messages can be edited"), nil
	}
	if err := t.Conn.Edit(ctx, m.ChatJID, m.MsgID, text); err != nil {
		return nil, err
	}
	return jsonResult(okView{Success: true})
}

func (t *Tools) deleteMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := t.target(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ref := conn.MessageRef{
		ChatJID:   m.ChatJID,
		SenderJID: m.SenderJID,
		MsgID:     m.MsgID,
		FromMe:    m.FromMe,
		Timestamp: time.UnixMilli(m.Timestamp),
	}
	res, err := t.Conn.DeleteMessage(ctx, ref, argBool(req, "for_everyone", false))
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{
		"chat_jid":     res.ChatJID,
		"id":           res.MsgID,
		"for_everyone": res.ForEveryone,
		"deleted_at":   res.DeletedAt.UTC().Format(time.RFC3339),
	})
}

func (t *Tools) starMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := t.target(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	starred := argBool(req, "starred", true)
	if err := t.Conn.Star(ctx, m.ChatJID, m.SenderJID, m.MsgID, m.FromMe, starred); err != nil {
		return nil, err
	}
	return jsonResult(okView{Success: true})
}

func (t *Tools) archiveChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chat, err := chatArg(req, "chat_jid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.Conn.Archive(ctx, chat, argBool(req, "archived", true)); err != nil {
		return nil, err
	}
	return jsonResult(okView{Success: true})
}

// markRead acknowledges the most recent incoming messages of a chat.
func (t *Tools) markRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chat, err := chatArg(req, "chat_jid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := t.DB.GetChat(chat)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return mcp.NewToolResultError(fmt.Sprintf("chat %s not found", chat)), nil
	}
	var ids []string
	var sender string
	if c.UnreadCount > 0 {
		msgs, err := t.DB.ListMessages(store.MessageFilter{
			ChatJID:        chat,
			FromMe:         opt.Some(false),
			ExcludeDeleted: true,
			Limit:          t.Config.ClampLimit(c.UnreadCount),
		})
		if err != nil {
			return nil, err
		}
		// Group receipts name one sender, so only the latest sender's run is acknowledged.
		group := strings.HasSuffix(chat, "@g.us")
		for _, m := range msgs {
			if group && sender == "" {
				sender = m.SenderJID
			}
			if !group || m.SenderJID == sender {
				ids = append(ids, m.MsgID)
			}
		}
	}
	if err := t.Conn.MarkRead(ctx, chat, sender, ids); err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"success": true, "acknowledged": len(ids)})
}

func (t *Tools) scheduleMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chat, err := chatArg(req, "chat_jid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	at, err := argTime(req, "send_at")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if at.IsZero() {
		return mcp.NewToolResultError("send_at is required"), nil
	}
	mediaPath := argString(req, "media_path")
	if mediaPath != "" {
		if _, err := os.Stat(mediaPath); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cannot read file %s", mediaPath)), nil
		}
	}
	s, err := t.Scheduler.Schedule(chat, argString(req, "text"), mediaPath, at)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(newScheduledView(s))
}

func (t *Tools) cancelScheduled(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ok, err := t.Scheduler.Cancel(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("scheduled message %s is not pending", id)), nil
	}
	return jsonResult(okView{Success: true})
}
