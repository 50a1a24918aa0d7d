package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/matheus3301/wppagent/internal/opt"
)

const previewLen = 100

const upsertMessageSQL = `
	INSERT INTO messages (chat_jid, msg_id, sender_jid, sender_name, content, message_type,
		timestamp, from_me, is_forwarded, reply_to_id,
		media_type, media_mime, media_filename, media_size, created_at, updated_at)
	VALUES (?1, ?2, ?3, ?4, ?5, COALESCE(?6, 'text'),
		COALESCE(?7, 0), COALESCE(?8, 0), COALESCE(?9, 0), ?10,
		?11, ?12, ?13, ?14, ?15, ?15)
	ON CONFLICT(chat_jid, msg_id) DO UPDATE SET
		sender_jid = COALESCE(?3, messages.sender_jid),
		sender_name = COALESCE(?4, messages.sender_name),
		content = CASE
			WHEN messages.is_deleted = 1 THEN NULL
			WHEN messages.is_edited = 1 THEN messages.content
			ELSE COALESCE(?5, messages.content) END,
		message_type = COALESCE(?6, messages.message_type),
		timestamp = COALESCE(?7, messages.timestamp),
		from_me = COALESCE(?8, messages.from_me),
		is_forwarded = COALESCE(?9, messages.is_forwarded),
		reply_to_id = COALESCE(?10, messages.reply_to_id),
		media_type = COALESCE(?11, messages.media_type),
		media_mime = COALESCE(?12, messages.media_mime),
		media_filename = COALESCE(?13, messages.media_filename),
		media_size = COALESCE(?14, messages.media_size),
		updated_at = ?15`

type queryExecer interface {
	execer
	QueryRow(query string, args ...any) *sql.Row
}

// IngestMessage writes a message and its chat's last-message metadata in a
// single transaction. Replays of the same (chat, id) merge into the existing
// row. When countUnread is set and the row is new, the chat's unread counter
// is incremented.
func (db *DB) IngestMessage(m *MessageUpsert, countUnread bool) (*IngestResult, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := ingestMessage(tx, m, countUnread, nowMillis())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// IngestHistory applies a replayed history batch in one transaction: chat
// metadata first, then messages. Replayed messages never touch unread counts.
// The returned results are aligned with msgs.
func (db *DB) IngestHistory(chats []*ChatUpsert, msgs []*MessageUpsert) ([]IngestResult, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMillis()
	for _, c := range chats {
		if err := upsertChat(tx, c, now); err != nil {
			return nil, err
		}
	}
	results := make([]IngestResult, 0, len(msgs))
	for _, m := range msgs {
		res, err := ingestMessage(tx, m, false, now)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return results, nil
}

func ingestMessage(tx queryExecer, m *MessageUpsert, countUnread bool, now int64) (*IngestResult, error) {
	if m.ChatJID == "" || m.MsgID == "" {
		return nil, fmt.Errorf("ingest message: chat jid and message id are required")
	}

	var rowID int64
	var deleted bool
	err := tx.QueryRow(`SELECT id, is_deleted FROM messages WHERE chat_jid = ? AND msg_id = ?`,
		m.ChatJID, m.MsgID).Scan(&rowID, &deleted)
	existed := err == nil
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("lookup message %q: %w", m.MsgID, err)
	}

	chat := &ChatUpsert{JID: m.ChatJID, LastMessageAt: m.Timestamp}
	if content, ok := m.Content.Get(); ok && content != "" && !deleted {
		chat.LastMessagePreview = opt.Some(truncate(content, previewLen))
	}
	if err := upsertChat(tx, chat, now); err != nil {
		return nil, err
	}

	result, err := tx.Exec(upsertMessageSQL,
		m.ChatJID, m.MsgID, m.SenderJID.Arg(), m.SenderName.Arg(), m.Content.Arg(), m.MessageType.Arg(),
		m.Timestamp.Arg(), m.FromMe.Arg(), m.Forwarded.Arg(), m.ReplyToID.Arg(),
		m.MediaType.Arg(), m.MediaMime.Arg(), m.MediaFilename.Arg(), m.MediaSize.Arg(), now)
	if err != nil {
		return nil, fmt.Errorf("upsert message %q: %w", m.MsgID, err)
	}
	if !existed {
		if rowID, err = result.LastInsertId(); err != nil {
			return nil, fmt.Errorf("message row id: %w", err)
		}
		if countUnread {
			if _, err := tx.Exec(`UPDATE chats SET unread_count = unread_count + 1 WHERE jid = ?`, m.ChatJID); err != nil {
				return nil, fmt.Errorf("increment unread: %w", err)
			}
		}
	}
	return &IngestResult{RowID: rowID, Inserted: !existed}, nil
}

const messageColumns = `m.id, m.chat_jid, m.msg_id, COALESCE(m.sender_jid, ''), COALESCE(m.sender_name, ''),
	COALESCE(m.content, ''), m.message_type, m.timestamp, m.from_me, m.is_forwarded, m.is_starred,
	m.is_deleted, m.is_edited, COALESCE(m.reply_to_id, ''),
	m.media_type, COALESCE(m.media_mime, ''), COALESCE(m.media_filename, ''), COALESCE(m.media_size, 0),
	COALESCE(m.media_path, ''), m.media_downloaded, m.reactions`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var mediaType, reactions sql.NullString
	var media Media
	if err := row.Scan(&m.ID, &m.ChatJID, &m.MsgID, &m.SenderJID, &m.SenderName,
		&m.Content, &m.MessageType, &m.Timestamp, &m.FromMe, &m.Forwarded, &m.Starred,
		&m.Deleted, &m.Edited, &m.ReplyToID,
		&mediaType, &media.Mime, &media.Filename, &media.Size,
		&media.Path, &media.Downloaded, &reactions); err != nil {
		return nil, err
	}
	if mediaType.Valid {
		media.Type = mediaType.String
		m.Media = &media
	}
	m.Reactions = decodeReactions(reactions.String)
	return &m, nil
}

// GetMessage returns a message by chat and protocol id, or nil if unknown.
func (db *DB) GetMessage(chatJID, msgID string) (*Message, error) {
	return db.getMessage(`m.chat_jid = ? AND m.msg_id = ?`, chatJID, msgID)
}

// GetMessageByRowID returns a message by its local row id, or nil if unknown.
func (db *DB) GetMessageByRowID(id int64) (*Message, error) {
	return db.getMessage(`m.id = ?`, id)
}

// FindMessage looks a message up by protocol id alone, newest first.
func (db *DB) FindMessage(msgID string) (*Message, error) {
	return db.getMessage(`m.msg_id = ? ORDER BY m.timestamp DESC LIMIT 1`, msgID)
}

func (db *DB) getMessage(cond string, args ...any) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages m WHERE `+cond, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns messages matching f, newest first.
func (db *DB) ListMessages(f MessageFilter) ([]Message, error) {
	limit, offset := clampPage(f.Limit, f.Offset, 50)

	var where []string
	var args []any
	if f.ChatJID != "" {
		where = append(where, "m.chat_jid = ?")
		args = append(args, f.ChatJID)
	}
	if f.SenderJID != "" {
		where = append(where, "m.sender_jid = ?")
		args = append(args, f.SenderJID)
	}
	if f.Before > 0 {
		where = append(where, "m.timestamp < ?")
		args = append(args, f.Before)
	}
	if f.After > 0 {
		where = append(where, "m.timestamp > ?")
		args = append(args, f.After)
	}
	if v, ok := f.FromMe.Get(); ok {
		where = append(where, "m.from_me = ?")
		args = append(args, v)
	}
	if v, ok := f.Starred.Get(); ok {
		where = append(where, "m.is_starred = ?")
		args = append(args, v)
	}
	if f.ExcludeDeleted {
		where = append(where, "m.is_deleted = 0")
	}

	q := `SELECT ` + messageColumns + ` FROM messages m`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY m.timestamp DESC, m.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	return db.queryMessages(q, args...)
}

func (db *DB) queryMessages(q string, args ...any) ([]Message, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// SetStarred sets the starred flag of a message.
func (db *DB) SetStarred(chatJID, msgID string, starred bool) error {
	_, err := db.Exec(`UPDATE messages SET is_starred = ?, updated_at = ? WHERE chat_jid = ? AND msg_id = ?`,
		starred, nowMillis(), chatJID, msgID)
	return err
}

// MarkMessageDeleted keeps the row but drops its content, and clears the
// chat preview when it was taken from this message. Later replays of the
// same message cannot restore either.
func (db *DB) MarkMessageDeleted(chatJID, msgID string) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rowID int64
	var content sql.NullString
	err = tx.QueryRow(`SELECT id, content FROM messages WHERE chat_jid = ? AND msg_id = ?`,
		chatJID, msgID).Scan(&rowID, &content)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup message %q: %w", msgID, err)
	}

	now := nowMillis()
	if _, err := tx.Exec(`UPDATE messages SET is_deleted = 1, content = NULL, updated_at = ? WHERE id = ?`,
		now, rowID); err != nil {
		return 0, fmt.Errorf("delete %q: %w", msgID, err)
	}
	if content.String != "" {
		if _, err := tx.Exec(`UPDATE chats SET last_message_preview = NULL, updated_at = ?
			WHERE jid = ? AND last_message_preview = ?`, now, chatJID, truncate(content.String, previewLen)); err != nil {
			return 0, fmt.Errorf("clear preview: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return rowID, nil
}

// EditMessageContent replaces the content of an existing, non-deleted message.
// It returns the row id, or 0 when no such message exists.
func (db *DB) EditMessageContent(chatJID, msgID, content string) (int64, error) {
	var rowID int64
	err := db.QueryRow(`
		UPDATE messages SET content = ?, is_edited = 1, updated_at = ?
		WHERE chat_jid = ? AND msg_id = ? AND is_deleted = 0
		RETURNING id`, content, nowMillis(), chatJID, msgID).Scan(&rowID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return rowID, err
}

// SetMediaDownloaded records where a message's attachment was saved.
func (db *DB) SetMediaDownloaded(chatJID, msgID, path string) error {
	_, err := db.Exec(`UPDATE messages SET media_path = ?, media_downloaded = 1, updated_at = ?
		WHERE chat_jid = ? AND msg_id = ?`, path, nowMillis(), chatJID, msgID)
	return err
}

// ApplyReaction adds reactor to the emoji's reactor set of a message;
// other emojis are untouched. An empty emoji removes the reactor from every
// emoji. Reactions to unknown messages are ignored and report false.
func (db *DB) ApplyReaction(chatJID, msgID, emoji, reactor string) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw sql.NullString
	err = tx.QueryRow(`SELECT reactions FROM messages WHERE chat_jid = ? AND msg_id = ?`, chatJID, msgID).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read reactions: %w", err)
	}

	reactions := decodeReactions(raw.String)
	if emoji == "" {
		for e, who := range reactions {
			who = slices.DeleteFunc(who, func(r string) bool { return r == reactor })
			if len(who) == 0 {
				delete(reactions, e)
			} else {
				reactions[e] = who
			}
		}
	} else if !slices.Contains(reactions[emoji], reactor) {
		reactions[emoji] = append(reactions[emoji], reactor)
	}

	var encoded any
	if len(reactions) > 0 {
		b, err := json.Marshal(reactions)
		if err != nil {
			return false, fmt.Errorf("encode reactions: %w", err)
		}
		encoded = string(b)
	}
	if _, err := tx.Exec(`UPDATE messages SET reactions = ?, updated_at = ? WHERE chat_jid = ? AND msg_id = ?`,
		encoded, nowMillis(), chatJID, msgID); err != nil {
		return false, fmt.Errorf("write reactions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func decodeReactions(raw string) map[string][]string {
	reactions := map[string][]string{}
	if raw == "" {
		return reactions
	}
	if err := json.Unmarshal([]byte(raw), &reactions); err != nil {
		return map[string][]string{}
	}
	return reactions
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
