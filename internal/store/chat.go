package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/matheus3301/wppagent/internal/opt"
)

const upsertChatSQL = `
	INSERT INTO chats (jid, name, is_group, archived, pinned, muted, muted_until,
		unread_count, last_message_at, last_message_preview, created_at, updated_at)
	VALUES (?1, ?2, COALESCE(?3, ?12), COALESCE(?4, 0), COALESCE(?5, 0), COALESCE(?6, 0), ?7,
		COALESCE(?8, 0), COALESCE(?9, 0), ?10, ?11, ?11)
	ON CONFLICT(jid) DO UPDATE SET
		name = COALESCE(?2, chats.name),
		is_group = COALESCE(?3, chats.is_group),
		archived = COALESCE(?4, chats.archived),
		pinned = COALESCE(?5, chats.pinned),
		muted = COALESCE(?6, chats.muted),
		muted_until = CASE WHEN ?6 = 0 THEN NULL ELSE COALESCE(?7, chats.muted_until) END,
		unread_count = MAX(chats.unread_count, COALESCE(?8, 0)),
		last_message_preview = CASE
			WHEN ?10 IS NOT NULL AND COALESCE(?9, 0) >= chats.last_message_at THEN ?10
			ELSE chats.last_message_preview END,
		last_message_at = MAX(chats.last_message_at, COALESCE(?9, 0)),
		updated_at = ?11`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// UpsertChat merges the present fields of c into the chat row, creating it
// if needed. Timestamps and unread counts never move backwards here; use
// MarkChatRead to reset unread.
func (db *DB) UpsertChat(c *ChatUpsert) error {
	return upsertChat(db, c, nowMillis())
}

func upsertChat(ex execer, c *ChatUpsert, now int64) error {
	if c.JID == "" {
		return fmt.Errorf("upsert chat: empty jid")
	}
	_, err := ex.Exec(upsertChatSQL,
		c.JID, c.Name.Arg(), c.IsGroup.Arg(), c.Archived.Arg(), c.Pinned.Arg(), c.Muted.Arg(),
		c.MutedUntil.Arg(), c.UnreadCount.Arg(), c.LastMessageAt.Arg(), c.LastMessagePreview.Arg(),
		now, IsGroupJID(c.JID))
	if err != nil {
		return fmt.Errorf("upsert chat %q: %w", c.JID, err)
	}
	return nil
}

const chatColumns = `c.jid,
	COALESCE(NULLIF(c.name,''), NULLIF(ct.name,''), NULLIF(ct.push_name,''), c.jid) AS display_name,
	c.is_group, c.archived, c.pinned, c.muted, COALESCE(c.muted_until, 0),
	c.unread_count, c.last_message_at, COALESCE(c.last_message_preview, '')`

func scanChat(row interface{ Scan(...any) error }) (*Chat, error) {
	var c Chat
	if err := row.Scan(&c.JID, &c.Name, &c.IsGroup, &c.Archived, &c.Pinned, &c.Muted, &c.MutedUntil,
		&c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns chats sorted pinned first, then by last message timestamp descending.
// Names are resolved via LEFT JOIN to contacts table with fallback:
// chat.name -> contact.name -> contact.push_name -> chat.jid
func (db *DB) ListChats(f ChatFilter) ([]Chat, error) {
	limit, offset := clampPage(f.Limit, f.Offset, 50)

	var where []string
	var args []any
	if f.Query != "" {
		like := "%" + f.Query + "%"
		where = append(where, "(c.jid LIKE ? OR c.name LIKE ? OR ct.name LIKE ? OR ct.push_name LIKE ?)")
		args = append(args, like, like, like, like)
	}
	if v, ok := f.Archived.Get(); ok {
		where = append(where, "c.archived = ?")
		args = append(args, v)
	}
	if v, ok := f.Pinned.Get(); ok {
		where = append(where, "c.pinned = ?")
		args = append(args, v)
	}
	if v, ok := f.IsGroup.Get(); ok {
		where = append(where, "c.is_group = ?")
		args = append(args, v)
	}

	q := `SELECT ` + chatColumns + ` FROM chats c LEFT JOIN contacts ct ON c.jid = ct.jid`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY c.pinned DESC, c.last_message_at DESC, c.jid LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by JID, or nil if it does not exist.
func (db *DB) GetChat(jid string) (*Chat, error) {
	c, err := scanChat(db.QueryRow(`SELECT `+chatColumns+`
		FROM chats c LEFT JOIN contacts ct ON c.jid = ct.jid
		WHERE c.jid = ?`, jid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SetArchived sets the archived flag of a chat.
func (db *DB) SetArchived(jid string, archived bool) error {
	return db.UpsertChat(&ChatUpsert{JID: jid, Archived: opt.Some(archived)})
}

// SetPinned sets the pinned flag of a chat.
func (db *DB) SetPinned(jid string, pinned bool) error {
	return db.UpsertChat(&ChatUpsert{JID: jid, Pinned: opt.Some(pinned)})
}

// SetMuted mutes a chat until the given unix millis. Zero means indefinitely.
func (db *DB) SetMuted(jid string, until int64) error {
	_, err := db.Exec(`UPDATE chats SET muted = 1, muted_until = ?, updated_at = ? WHERE jid = ?`,
		nullIfZero(until), nowMillis(), jid)
	return err
}

// Unmute clears the mute flag and expiry of a chat.
func (db *DB) Unmute(jid string) error {
	_, err := db.Exec(`UPDATE chats SET muted = 0, muted_until = NULL, updated_at = ? WHERE jid = ?`,
		nowMillis(), jid)
	return err
}

// MarkChatRead resets the unread counter of a chat.
func (db *DB) MarkChatRead(jid string) error {
	_, err := db.Exec(`UPDATE chats SET unread_count = 0, updated_at = ? WHERE jid = ?`, nowMillis(), jid)
	return err
}

// DeleteChat removes a chat together with its messages, embeddings and
// scheduled messages.
func (db *DB) DeleteChat(jid string) error {
	_, err := db.Exec(`DELETE FROM chats WHERE jid = ?`, jid)
	return err
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}

func nullIfZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
