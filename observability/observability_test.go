package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA foreign_keys=ON")
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInit_CreatesTable(t *testing.T) {
	db := setupObsDB(t)
	var count int
	db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='business_event_logs'").Scan(&count)
	if count != 1 {
		t.Fatal("business_event_logs table not found")
	}
}

func TestEventLogger_LogEvent(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db)

	el.LogEvent(context.Background(), BusinessEvent{
		EventType:   "capture_done",
		ServiceName: "pagesnap",
		EntityType:  "capture",
		EntityID:    "cap_1",
		Action:      "compose",
		Success:     true,
	})

	var eventType, entityID string
	db.QueryRow("SELECT event_type, entity_id FROM business_event_logs LIMIT 1").Scan(&eventType, &entityID)
	if eventType != "capture_done" {
		t.Fatalf("event_type: got %q", eventType)
	}
	if entityID != "cap_1" {
		t.Fatalf("entity_id: got %q", entityID)
	}
}

func TestEventLogger_WithIDGenerator(t *testing.T) {
	db := setupObsDB(t)
	gen := func() string { return "evt_custom" }
	el := NewEventLogger(db, WithEventIDGenerator(gen))

	el.LogEvent(context.Background(), BusinessEvent{
		EventType:   "capture_failed",
		ServiceName: "pagesnap",
		Action:      "rasterize",
		Success:     false,
	})

	var eventID string
	db.QueryRow("SELECT event_id FROM business_event_logs LIMIT 1").Scan(&eventID)
	if eventID != "evt_custom" {
		t.Fatalf("custom event_id: got %q", eventID)
	}
}

func TestCleanup_Retention(t *testing.T) {
	db := setupObsDB(t)

	oldTs := time.Now().Add(-40 * 24 * time.Hour).Unix()
	db.Exec("INSERT INTO business_event_logs (event_id, event_type, service_name, action, success, created_at) VALUES ('e1', 'capture_done', 'pagesnap', 'compose', 1, ?)", oldTs)
	db.Exec("INSERT INTO business_event_logs (event_id, event_type, service_name, action, success, created_at) VALUES ('e2', 'capture_done', 'pagesnap', 'compose', 1, ?)", time.Now().Unix())

	err := Cleanup(context.Background(), db, RetentionConfig{EventLogsDays: 30})
	if err != nil {
		t.Fatal(err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM business_event_logs").Scan(&count)
	if count != 1 {
		t.Fatalf("business_event_logs: got %d, want 1", count)
	}
}

func TestCleanup_SkipsZeroDays(t *testing.T) {
	db := setupObsDB(t)

	oldTs := time.Now().Add(-40 * 24 * time.Hour).Unix()
	db.Exec("INSERT INTO business_event_logs (event_id, event_type, service_name, action, success, created_at) VALUES ('e1', 'capture_done', 'pagesnap', 'compose', 1, ?)", oldTs)

	err := Cleanup(context.Background(), db, RetentionConfig{EventLogsDays: 0})
	if err != nil {
		t.Fatal(err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM business_event_logs").Scan(&count)
	if count != 1 {
		t.Fatalf("should not clean when days=0: got %d", count)
	}
}
