package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/matheus3301/wppagent/internal/opt"
	"github.com/matheus3301/wppagent/internal/store"
	"github.com/matheus3301/wppagent/internal/vectors"
)

type statusView struct {
	State             string `json:"state"`
	StateSince        string `json:"state_since"`
	LoggedIn          bool   `json:"logged_in"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	Failed            bool   `json:"failed"`
	PairingPending    bool   `json:"pairing_pending"`
}

func (t *Tools) connectionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(statusView{
		State:             string(t.Conn.State()),
		StateSince:        t.Conn.StateSince().UTC().Format(time.RFC3339),
		LoggedIn:          t.Conn.IsLoggedIn(),
		ReconnectAttempts: t.Conn.Attempts(),
		Failed:            t.Conn.Failed(),
		PairingPending:    t.Conn.LastQR() != "",
	})
}

func optBool(req mcp.CallToolRequest, key string) opt.Opt[bool] {
	if b, ok := req.Params.Arguments[key].(bool); ok {
		return opt.Some(b)
	}
	return opt.Opt[bool]{}
}

func (t *Tools) listChats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit, offset := t.page(req)
	chats, err := t.DB.ListChats(store.ChatFilter{
		Query:    argString(req, "query"),
		Archived: optBool(req, "archived"),
		Pinned:   optBool(req, "pinned"),
		IsGroup:  optBool(req, "is_group"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, err
	}
	out := make([]chatView, 0, len(chats))
	for i := range chats {
		out = append(out, newChatView(&chats[i]))
	}
	return jsonResult(out)
}

func (t *Tools) getChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jid, err := chatArg(req, "chat_jid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := t.DB.GetChat(jid)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return mcp.NewToolResultError(fmt.Sprintf("chat %s not found", jid)), nil
	}
	return jsonResult(newChatView(c))
}

func (t *Tools) listMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	before, err := argTime(req, "before")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	after, err := argTime(req, "after")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit, offset := t.page(req)
	f := store.MessageFilter{
		ChatJID:        normalizeJID(argString(req, "chat_jid")),
		SenderJID:      normalizeJID(argString(req, "sender_jid")),
		FromMe:         optBool(req, "from_me"),
		Starred:        optBool(req, "starred"),
		ExcludeDeleted: !argBool(req, "include_deleted", false),
		Limit:          limit,
		Offset:         offset,
	}
	if !before.IsZero() {
		f.Before = before.UnixMilli()
	}
	if !after.IsZero() {
		f.After = after.UnixMilli()
	}
	msgs, err := t.DB.ListMessages(f)
	if err != nil {
		return nil, err
	}
	out := make([]messageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, newMessageView(&msgs[i]))
	}
	return jsonResult(out)
}

func (t *Tools) searchMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := requireString(req, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit, offset := t.page(req)
	results, err := t.DB.SearchMessages(q, store.SearchFilter{
		ChatJID: normalizeJID(argString(req, "chat_jid")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, err
	}
	out := make([]messageView, 0, len(results))
	for i := range results {
		v := newMessageView(&results[i].Message)
		v.Snippet = results[i].Snippet
		out = append(out, v)
	}
	return jsonResult(out)
}

func (t *Tools) semanticSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := requireString(req, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := t.Config.ClampLimit(argInt(req, "limit", 0))
	hits, err := t.Indexer.Search(ctx, q, limit)
	if errors.Is(err, vectors.ErrUnavailable) {
		return mcp.NewToolResultError("semantic search is not available: configure an embedding provider"), nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]messageView, 0, len(hits))
	for _, h := range hits {
		m, err := t.DB.GetMessageByRowID(h.MessageID)
		if err != nil {
			return nil, err
		}
		if m == nil || m.Deleted {
			continue
		}
		v := newMessageView(m)
		d := h.Distance
		v.Distance = &d
		out = append(out, v)
	}
	return jsonResult(out)
}

func (t *Tools) searchContacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := requireString(req, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit, offset := t.page(req)
	contacts, err := t.DB.SearchContacts(q, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]contactView, 0, len(contacts))
	for i := range contacts {
		out = append(out, newContactView(&contacts[i]))
	}
	return jsonResult(out)
}

func (t *Tools) listScheduled(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := store.ScheduledStatus(argString(req, "status"))
	switch st {
	case "", store.ScheduledPending, store.ScheduledSent, store.ScheduledFailed, store.ScheduledCancelled:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", st)), nil
	}
	limit, offset := t.page(req)
	list, err := t.Scheduler.List(st, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]scheduledView, 0, len(list))
	for i := range list {
		out = append(out, newScheduledView(&list[i]))
	}
	return jsonResult(out)
}
