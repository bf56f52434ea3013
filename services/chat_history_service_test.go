package services

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"chathistory/config"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const rejectBoomTrigger = `
CREATE TRIGGER reject_boom BEFORE INSERT ON chat_history
WHEN NEW.message = 'boom'
BEGIN
  SELECT RAISE(ABORT, 'boom rejected');
END;`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DBDriver = config.DriverSQLite
	cfg.DBPath = filepath.Join(t.TempDir(), "chat.db")

	db, err := OpenDatabase(cfg)
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := EnsureSchema(context.Background(), db, config.DriverSQLite); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *sql.DB, opts ...Option) *ChatHistoryService {
	t.Helper()
	svc, err := NewChatHistoryService(db, config.DriverSQLite, opts...)
	if err != nil {
		t.Fatalf("NewChatHistoryService: %v", err)
	}
	return svc
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chat_history`).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

type recordingMirror struct {
	batches map[string][]StoredEntry
	err     error
}

func (m *recordingMirror) MirrorEntries(ctx context.Context, batchID string, entries []StoredEntry) error {
	if m.batches == nil {
		m.batches = map[string][]StoredEntry{}
	}
	m.batches[batchID] = append([]StoredEntry(nil), entries...)
	return m.err
}

func TestSaveChatHistoryStoresInOrder(t *testing.T) {
	db := openTestDB(t)
	mirror := &recordingMirror{}
	svc := newTestService(t, db, WithMirror(mirror))

	result, err := svc.SaveChatHistory(context.Background(), `[
		{"sender":"user","message":"one"},
		{"sender":"bot","message":"two","tts_audio_link":"http://a/two.mp3"},
		{"sender":"user","message":"three"}
	]`)
	if err != nil {
		t.Fatalf("SaveChatHistory: %v", err)
	}
	if result.Total != 3 || result.Saved != 3 || result.BatchID == "" {
		t.Fatalf("unexpected result %+v", result)
	}

	rows, err := svc.ListChatHistory(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("ListChatHistory: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, want := range []string{"one", "two", "three"} {
		if rows[i].Message != want {
			t.Fatalf("row %d: expected %q, got %q", i, want, rows[i].Message)
		}
		if i > 0 && rows[i].ID <= rows[i-1].ID {
			t.Fatalf("ids not increasing: %d then %d", rows[i-1].ID, rows[i].ID)
		}
	}
	if rows[0].TTSAudioLink != nil {
		t.Fatalf("expected NULL audio link, got %q", *rows[0].TTSAudioLink)
	}
	if rows[1].TTSAudioLink == nil || *rows[1].TTSAudioLink != "http://a/two.mp3" {
		t.Fatalf("audio link not preserved: %+v", rows[1])
	}

	if got := len(mirror.batches[result.BatchID]); got != 3 {
		t.Fatalf("expected 3 mirrored entries, got %d", got)
	}
}

func TestSaveChatHistoryInvalidWritesNothing(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db)

	for _, raw := range []string{"{not valid json", "[]", `[{"sender":"user","message":"ok"},{"message":"no sender"}]`} {
		_, err := svc.SaveChatHistory(context.Background(), raw)
		if !errors.Is(err, ErrInvalidChatHistory) {
			t.Fatalf("%q: expected invalid chat history, got %v", raw, err)
		}
	}
	if n := countRows(t, db); n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}
}

func TestSaveChatHistoryConnectionFailure(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db)
	db.Close()

	_, err := svc.SaveChatHistory(context.Background(), `[{"sender":"user","message":"hi"}]`)
	if !IsConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestSaveChatHistorySequentialKeepsEarlierRows(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(rejectBoomTrigger); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	mirror := &recordingMirror{}
	svc := newTestService(t, db, WithMirror(mirror))

	result, err := svc.SaveChatHistory(context.Background(), `[
		{"sender":"user","message":"first"},
		{"sender":"bot","message":"boom"},
		{"sender":"user","message":"never"}
	]`)

	var insertErr *InsertError
	if !errors.As(err, &insertErr) {
		t.Fatalf("expected InsertError, got %v", err)
	}
	if insertErr.Index != 1 || insertErr.Saved != 1 {
		t.Fatalf("unexpected insert error %+v", insertErr)
	}
	if result.Saved != 1 {
		t.Fatalf("expected 1 saved, got %d", result.Saved)
	}
	if n := countRows(t, db); n != 1 {
		t.Fatalf("expected 1 row to stay committed, got %d", n)
	}
	if got := len(mirror.batches[result.BatchID]); got != 1 {
		t.Fatalf("expected the committed row to be mirrored, got %d", got)
	}
}

func TestSaveChatHistoryAtomicRollsBack(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(rejectBoomTrigger); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	svc := newTestService(t, db, WithInsertMode(config.InsertModeAtomic))

	result, err := svc.SaveChatHistory(context.Background(),
		`[{"sender":"user","message":"first"},{"sender":"bot","message":"boom"}]`)

	var insertErr *InsertError
	if !errors.As(err, &insertErr) {
		t.Fatalf("expected InsertError, got %v", err)
	}
	if insertErr.Saved != 0 || result.Saved != 0 {
		t.Fatalf("atomic batch should report nothing saved, got %+v", insertErr)
	}
	if n := countRows(t, db); n != 0 {
		t.Fatalf("expected rollback, got %d rows", n)
	}

	if _, err := svc.SaveChatHistory(context.Background(),
		`[{"sender":"user","message":"a"},{"sender":"bot","message":"b"}]`); err != nil {
		t.Fatalf("SaveChatHistory: %v", err)
	}
	if n := countRows(t, db); n != 2 {
		t.Fatalf("expected 2 rows after commit, got %d", n)
	}
}

func TestSaveChatHistoryBestEffortSkipsFailures(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(rejectBoomTrigger); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	svc := newTestService(t, db, WithInsertMode(config.InsertModeBestEffort))

	result, err := svc.SaveChatHistory(context.Background(), `[
		{"sender":"user","message":"first"},
		{"sender":"bot","message":"boom"},
		{"sender":"user","message":"third"}
	]`)
	if err != nil {
		t.Fatalf("SaveChatHistory: %v", err)
	}
	if result.Saved != 2 || len(result.Failed) != 1 || result.Failed[0].Index != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if n := countRows(t, db); n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
}

func TestSaveChatHistoryBestEffortMirrorsBatchPositions(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(rejectBoomTrigger); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	client := &fakeDynamo{}
	svc := newTestService(t, db,
		WithInsertMode(config.InsertModeBestEffort),
		WithMirror(NewDynamoMirror(client, "", nil)),
	)

	result, err := svc.SaveChatHistory(context.Background(), `[
		{"sender":"user","message":"first"},
		{"sender":"bot","message":"boom"},
		{"sender":"user","message":"third"}
	]`)
	if err != nil {
		t.Fatalf("SaveChatHistory: %v", err)
	}
	if len(client.puts) != 2 {
		t.Fatalf("expected 2 mirrored items, got %d", len(client.puts))
	}

	want := map[string]string{"first": "0", "third": "2"}
	for _, put := range client.puts {
		msg := stringAttr(t, put.Item, "Message")
		seq := put.Item["Seq"].(*types.AttributeValueMemberN).Value
		if seq != want[msg] {
			t.Fatalf("entry %q mirrored with seq %s, want %s", msg, seq, want[msg])
		}
		if got := stringAttr(t, put.Item, "BatchID"); got != result.BatchID {
			t.Fatalf("unexpected batch id %q", got)
		}
	}
}

func TestSaveChatHistoryMirrorFailureIsNotFatal(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, WithMirror(&recordingMirror{err: errors.New("dynamo down")}))

	if _, err := svc.SaveChatHistory(context.Background(), `[{"sender":"user","message":"hi"}]`); err != nil {
		t.Fatalf("mirror failure must not fail the batch: %v", err)
	}
	if n := countRows(t, db); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestListChatHistoryPaginates(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, WithMaxListLimit(2))

	if _, err := svc.SaveChatHistory(context.Background(), `[
		{"sender":"user","message":"1"},
		{"sender":"bot","message":"2"},
		{"sender":"user","message":"3"}
	]`); err != nil {
		t.Fatalf("SaveChatHistory: %v", err)
	}

	page, err := svc.ListChatHistory(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("ListChatHistory: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("limit should be capped at 2, got %d", len(page))
	}

	rest, err := svc.ListChatHistory(context.Background(), page[len(page)-1].ID, 0)
	if err != nil {
		t.Fatalf("ListChatHistory: %v", err)
	}
	if len(rest) != 1 || rest[0].Message != "3" {
		t.Fatalf("unexpected second page %+v", rest)
	}
}

func TestNewChatHistoryServiceRejectsUnknownMode(t *testing.T) {
	db := openTestDB(t)
	if _, err := NewChatHistoryService(db, config.DriverSQLite, WithInsertMode("eventually")); err == nil {
		t.Fatalf("expected error for unknown insert mode")
	}
	if _, err := NewChatHistoryService(db, "mysql"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
