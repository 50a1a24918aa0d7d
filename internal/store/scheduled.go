package store

import (
	"database/sql"
	"fmt"
)

const scheduledColumns = `id, chat_jid, content, COALESCE(media_path, ''), scheduled_at, status,
	COALESCE(claimed_at, 0), COALESCE(sent_msg_id, ''), COALESCE(error, ''), created_at, updated_at`

func scanScheduled(row interface{ Scan(...any) error }) (*ScheduledMessage, error) {
	var s ScheduledMessage
	if err := row.Scan(&s.ID, &s.ChatJID, &s.Content, &s.MediaPath, &s.ScheduledAt, &s.Status,
		&s.ClaimedAt, &s.SentMsgID, &s.Error, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateScheduled stores a pending scheduled message, creating the chat row
// if needed.
func (db *DB) CreateScheduled(s *ScheduledMessage) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMillis()
	if err := upsertChat(tx, &ChatUpsert{JID: s.ChatJID}, now); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO scheduled_messages (id, chat_jid, content, media_path, scheduled_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)`,
		s.ID, s.ChatJID, s.Content, nullIfEmpty(s.MediaPath), s.ScheduledAt, now, now); err != nil {
		return fmt.Errorf("insert scheduled %q: %w", s.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.Status = ScheduledPending
	s.CreatedAt, s.UpdatedAt = now, now
	return nil
}

// GetScheduled returns a scheduled message by id, or nil if unknown.
func (db *DB) GetScheduled(id string) (*ScheduledMessage, error) {
	s, err := scanScheduled(db.QueryRow(`SELECT `+scheduledColumns+` FROM scheduled_messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListScheduled returns scheduled messages by send time. An empty status lists all.
func (db *DB) ListScheduled(status ScheduledStatus, limit, offset int) ([]ScheduledMessage, error) {
	limit, offset = clampPage(limit, offset, 50)
	return db.queryScheduled(`SELECT `+scheduledColumns+` FROM scheduled_messages
		WHERE ?1 = '' OR status = ?1
		ORDER BY scheduled_at ASC, id ASC LIMIT ?2 OFFSET ?3`, string(status), limit, offset)
}

// DueScheduled returns pending, unclaimed messages whose send time is at or before now.
func (db *DB) DueScheduled(now int64) ([]ScheduledMessage, error) {
	return db.queryScheduled(`SELECT `+scheduledColumns+` FROM scheduled_messages
		WHERE status = 'pending' AND claimed_at IS NULL AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, id ASC`, now)
}

func (db *DB) queryScheduled(q string, args ...any) ([]ScheduledMessage, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ScheduledMessage
	for rows.Next() {
		s, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ClaimScheduled marks a pending message as being delivered. It reports
// false if the message is no longer pending or was already claimed.
func (db *DB) ClaimScheduled(id string) (bool, error) {
	now := nowMillis()
	return db.affected(`UPDATE scheduled_messages SET claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending' AND claimed_at IS NULL`, now, now, id)
}

// MarkScheduledSent records a successful delivery.
func (db *DB) MarkScheduledSent(id, msgID string) (bool, error) {
	return db.affected(`UPDATE scheduled_messages SET status = 'sent', sent_msg_id = ?, error = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'`, msgID, nowMillis(), id)
}

// MarkScheduledFailed records a failed delivery.
func (db *DB) MarkScheduledFailed(id, reason string) (bool, error) {
	return db.affected(`UPDATE scheduled_messages SET status = 'failed', error = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`, reason, nowMillis(), id)
}

// CancelScheduled cancels a message that is still pending and unclaimed.
func (db *DB) CancelScheduled(id string) (bool, error) {
	return db.affected(`UPDATE scheduled_messages SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status = 'pending' AND claimed_at IS NULL`, nowMillis(), id)
}

// FailInterruptedScheduled fails messages that were claimed but never
// resolved, which happens when the process stops mid-delivery. They are not
// resent because delivery may already have happened.
func (db *DB) FailInterruptedScheduled() (int64, error) {
	res, err := db.Exec(`UPDATE scheduled_messages SET status = 'failed', error = 'interrupted during delivery', updated_at = ?
		WHERE status = 'pending' AND claimed_at IS NOT NULL`, nowMillis())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) affected(q string, args ...any) (bool, error) {
	res, err := db.Exec(q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
