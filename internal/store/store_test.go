package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/matheus3301/wppagent/internal/opt"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	if v, err := db.SchemaVersion(); err != nil || v != 0 {
		t.Fatalf("fresh SchemaVersion = %d, %v", v, err)
	}
	first, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if !first.Changed || first.From != 0 || first.Version != 3 {
		t.Errorf("first Migrate = %+v, want 0 -> 3 (init + fts + embeddings)", first)
	}

	again, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if again.Changed || again.From != 3 {
		t.Errorf("second Migrate = %+v, want no change at 3", again)
	}
}

func TestMigrateRefusesDirtySchema(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec("UPDATE schema_migrations SET dirty = 1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); !errors.Is(err, ErrDirtySchema) {
		t.Fatalf("Migrate on dirty schema = %v, want ErrDirtySchema", err)
	}
}

// TestMigrateSchemaHasRequiredColumns verifies the migration creates all
// columns the ingestion pipeline depends on.
func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert chat", "INSERT INTO chats (jid, name, is_group, archived, pinned, muted, muted_until, unread_count, last_message_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", []any{"c@s", "Test", false, false, true, false, nil, 0, 1000}},
		{"insert message", "INSERT INTO messages (chat_jid, msg_id, sender_jid, content, timestamp, from_me, is_forwarded, reply_to_id, media_type, reactions) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", []any{"c@s", "m1", "s@s", "hello", 1000, false, false, nil, nil, nil}},
		{"insert contact", "INSERT INTO contacts (jid, phone, name, push_name, is_business, profile_picture) VALUES (?, ?, ?, ?, ?, ?)", []any{"j@s", "123", "Name", "Push", false, nil}},
		{"insert scheduled", "INSERT INTO scheduled_messages (id, chat_jid, content, scheduled_at) VALUES (?, ?, ?, ?)", []any{"s1", "c@s", "later", 2000}},
		{"insert embedding", "INSERT INTO message_embeddings (message_id, model, dims, vector) VALUES ((SELECT id FROM messages WHERE msg_id = 'm1'), ?, ?, ?)", []any{"m", 2, []byte{0, 0, 0, 0, 0, 0, 0, 0}}},
		{"set sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM messages_fts WHERE messages_fts MATCH 'hello'").Scan(&count)
	if err != nil {
		t.Fatalf("FTS5 query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("FTS5 count = %d, want 1", count)
	}
}

func TestScheduledStatusConstraint(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChat(&ChatUpsert{JID: "c@s"}); err != nil {
		t.Fatal(err)
	}
	_, err := db.Exec(`INSERT INTO scheduled_messages (id, chat_jid, scheduled_at, status) VALUES ('x', 'c@s', 1, 'bogus')`)
	if err == nil {
		t.Fatal("expected CHECK constraint failure for unknown status")
	}
}

func TestChatUpsertAndList(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&ChatUpsert{JID: "123@s.whatsapp.net", Name: opt.Some("Alice"), LastMessageAt: opt.Some(int64(1000))}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&ChatUpsert{JID: "123@s.whatsapp.net", Name: opt.Some("Alice Updated")}); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(ChatFilter{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1", len(chats))
	}
	if chats[0].Name != "Alice Updated" {
		t.Errorf("name = %q, want Alice Updated", chats[0].Name)
	}
	if chats[0].LastMessageAt != 1000 {
		t.Errorf("last_message_at = %d, want 1000 (absent field must not clobber)", chats[0].LastMessageAt)
	}
}

func TestChatUpsertAbsentFieldsKeepValues(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&ChatUpsert{JID: "a@s", Name: opt.Some("A"), Archived: opt.Some(true), Pinned: opt.Some(true)}); err != nil {
		t.Fatal(err)
	}
	// Only the name changes; archive and pin must survive.
	if err := db.UpsertChat(&ChatUpsert{JID: "a@s", Name: opt.Some("B")}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetChat("a@s")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "B" || !c.Archived || !c.Pinned {
		t.Errorf("chat = %+v, want name B, archived and pinned", c)
	}

	// Explicit false is a present value.
	if err := db.UpsertChat(&ChatUpsert{JID: "a@s", Archived: opt.Some(false)}); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetChat("a@s")
	if c.Archived {
		t.Error("archived should be false after explicit false")
	}
}

func TestChatLastMessageAtNeverRegresses(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&ChatUpsert{JID: "a@s", LastMessageAt: opt.Some(int64(5000)), LastMessagePreview: opt.Some("new")}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&ChatUpsert{JID: "a@s", LastMessageAt: opt.Some(int64(1000)), LastMessagePreview: opt.Some("old")}); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetChat("a@s")
	if c.LastMessageAt != 5000 || c.LastMessagePreview != "new" {
		t.Errorf("got (%d, %q), want (5000, new)", c.LastMessageAt, c.LastMessagePreview)
	}
}

func TestChatUnreadOnlyResetByMarkRead(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&ChatUpsert{JID: "a@s", UnreadCount: opt.Some(3)}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&ChatUpsert{JID: "a@s", UnreadCount: opt.Some(0)}); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetChat("a@s")
	if c.UnreadCount != 3 {
		t.Errorf("unread = %d, want 3 (metadata must not decrease unread)", c.UnreadCount)
	}
	if err := db.MarkChatRead("a@s"); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetChat("a@s")
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 after MarkChatRead", c.UnreadCount)
	}
}

func TestGetChat(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&ChatUpsert{JID: "a@s", Name: opt.Some("A")}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetChat("a@s")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "A" {
		t.Errorf("got %v, want A", c)
	}

	c, err = db.GetChat("missing@s")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil for missing chat")
	}
}

func TestChatNameFallsBackToContact(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&ChatUpsert{JID: "b@s.whatsapp.net"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertContact(&ContactUpsert{JID: "b@s.whatsapp.net", PushName: opt.Some("Bob")}); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetChat("b@s.whatsapp.net")
	if c.Name != "Bob" {
		t.Errorf("name = %q, want Bob", c.Name)
	}
}

func TestGroupFlagDerivedFromJID(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&ChatUpsert{JID: "123-456@g.us"}); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetChat("123-456@g.us")
	if !c.IsGroup {
		t.Error("expected group chat for @g.us jid")
	}
}

func TestListChatsFiltersAndPagination(t *testing.T) {
	db := testDB(t)

	for i, jid := range []string{"a@s", "b@s", "c@s"} {
		if err := db.UpsertChat(&ChatUpsert{JID: jid, LastMessageAt: opt.Some(int64(1000 * (i + 1)))}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.SetArchived("b@s", true); err != nil {
		t.Fatal(err)
	}

	page, err := db.ListChats(ChatFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].JID != "b@s" {
		t.Errorf("page = %+v, want [b@s]", page)
	}

	archived, err := db.ListChats(ChatFilter{Archived: opt.Some(true)})
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 1 || archived[0].JID != "b@s" {
		t.Errorf("archived = %+v, want [b@s]", archived)
	}

	if err := db.SetPinned("a@s", true); err != nil {
		t.Fatal(err)
	}
	all, _ := db.ListChats(ChatFilter{})
	if all[0].JID != "a@s" {
		t.Errorf("first chat = %q, want pinned a@s", all[0].JID)
	}
}

func TestMuteAndUnmute(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&ChatUpsert{JID: "a@s"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMuted("a@s", 99999); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetChat("a@s")
	if !c.Muted || c.MutedUntil != 99999 {
		t.Errorf("chat = %+v, want muted until 99999", c)
	}
	if err := db.Unmute("a@s"); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetChat("a@s")
	if c.Muted || c.MutedUntil != 0 {
		t.Errorf("chat = %+v, want unmuted", c)
	}
}

func TestDeleteChatCascades(t *testing.T) {
	db := testDB(t)

	res, err := db.IngestMessage(&MessageUpsert{ChatJID: "c1@s", MsgID: "m1", Content: opt.Some("hello"), Timestamp: opt.Some(int64(1))}, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO message_embeddings (message_id, model, dims, vector) VALUES (?, 'm', 1, X'00000000')`, res.RowID); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateScheduled(&ScheduledMessage{ID: "s1", ChatJID: "c1@s", Content: "x", ScheduledAt: 10}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteChat("c1@s"); err != nil {
		t.Fatal(err)
	}

	for _, table := range []string{"messages", "message_embeddings", "scheduled_messages"} {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("%s has %d rows after chat delete, want 0", table, n)
		}
	}
	results, err := db.SearchMessages("hello", SearchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("search returned %d results after chat delete", len(results))
	}
}

func TestContact(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&ContactUpsert{JID: "j@s", Name: opt.Some("Name"), Phone: opt.Some("5511")}); err != nil {
		t.Fatal(err)
	}
	// Merge must not drop the existing name.
	if err := db.UpsertContact(&ContactUpsert{JID: "j@s", PushName: opt.Some("Push"), Name: opt.Some("")}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetContact("j@s")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Name" || c.PushName != "Push" || c.Phone != "5511" {
		t.Errorf("contact = %+v", c)
	}

	missing, err := db.GetContact("nobody@s")
	if err != nil || missing != nil {
		t.Errorf("GetContact(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestBulkUpsertContactsIndependentRows(t *testing.T) {
	db := testDB(t)

	err := db.BulkUpsertContacts([]ContactUpsert{
		{JID: "a@s", Name: opt.Some("A")},
		{JID: ""},
		{JID: "b@s", Name: opt.Some("B")},
	})
	if err == nil {
		t.Fatal("expected error for empty jid row")
	}
	n, _ := db.ContactCount()
	if n != 2 {
		t.Errorf("contact count = %d, want 2 (valid rows still written)", n)
	}

	found, err := db.SearchContacts("B", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].JID != "b@s" {
		t.Errorf("search = %+v, want [b@s]", found)
	}
}

func TestSyncState(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.GetState("missing"); err != nil || ok {
		t.Fatalf("GetState(missing) = ok %v, err %v", ok, err)
	}
	if err := db.SetState("history.batches", "1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetState("history.batches", "2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.GetState("history.batches")
	if err != nil || !ok || v != "2" {
		t.Errorf("GetState() = %q, %v, %v; want 2, true, nil", v, ok, err)
	}
}
