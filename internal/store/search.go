package store

import "strings"

// SearchMessages performs a full-text search on message content, best match
// first. Every whitespace-separated term of query must match; FTS operators
// in the input are treated as literal text.
func (db *DB) SearchMessages(query string, f SearchFilter) ([]SearchResult, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	limit, offset := clampPage(f.Limit, f.Offset, 50)

	q := `
		SELECT ` + messageColumns + `,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.rowid
		WHERE messages_fts MATCH ?`

	args := []any{match}
	if f.ChatJID != "" {
		q += " AND m.chat_jid = ?"
		args = append(args, f.ChatJID)
	}
	q += " ORDER BY rank LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var snippet string
		m, err := scanMessage(scanWithTail{rows, &snippet})
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Message: *m, Snippet: snippet})
	}
	return results, rows.Err()
}

// scanWithTail appends extra destinations after the message columns.
type scanWithTail struct {
	row  interface{ Scan(...any) error }
	tail any
}

func (s scanWithTail) Scan(dest ...any) error {
	return s.row.Scan(append(dest, s.tail)...)
}

func ftsQuery(q string) string {
	fields := strings.Fields(q)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " ")
}
