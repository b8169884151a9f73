package store

import (
	"os"
	"path/filepath"
	"testing"

	"fleetlink/config"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: dbPath},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})
	return db
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestAppendDispatchAndList(t *testing.T) {
	db := testDB(t)

	if err := db.AppendDispatch("order", "ord-1", "", "AGV_1", "vda5050/v2/acme/AGV_1/order", 1, true); err != nil {
		t.Fatalf("append: %v", err)
	}
	db.AppendDispatch("instantActions", "", "cancelOrder", "AGV_1", "vda5050/v2/acme/AGV_1/instantActions", 2, true)
	db.AppendDispatch("order", "ord-2", "", "AGV_2", "vda5050/v2/acme/AGV_2/order", 3, false)

	entries, err := db.ListOrderLog(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	// Most recent first.
	if entries[0].OrderID != "ord-2" {
		t.Errorf("first order_id = %q, want %q", entries[0].OrderID, "ord-2")
	}
	if entries[0].Delivered {
		t.Error("ord-2 dispatch should be marked undelivered")
	}
	if entries[0].HeaderID != 3 {
		t.Errorf("header_id = %d, want 3", entries[0].HeaderID)
	}
	if entries[2].Kind != "order" || !entries[2].Delivered {
		t.Errorf("oldest entry = %+v, want delivered order", entries[2])
	}
	if entries[1].ActionType != "cancelOrder" {
		t.Errorf("action_type = %q, want %q", entries[1].ActionType, "cancelOrder")
	}
	if entries[2].CreatedAt.IsZero() {
		t.Error("created_at should be set")
	}

	// Limit applies.
	limited, _ := db.ListOrderLog(2)
	if len(limited) != 2 {
		t.Errorf("limited len = %d, want 2", len(limited))
	}
}

func TestListOrderDispatches(t *testing.T) {
	db := testDB(t)

	db.AppendDispatch("order", "ord-1", "", "AGV_1", "vda5050/v2/acme/AGV_1/order", 1, false)
	db.AppendDispatch("order", "ord-1", "", "AGV_1", "vda5050/v2/acme/AGV_1/order", 2, true)
	db.AppendDispatch("order", "ord-9", "", "AGV_2", "vda5050/v2/acme/AGV_2/order", 3, true)

	entries, err := db.ListOrderDispatches("ord-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.OrderID != "ord-1" {
			t.Errorf("order_id = %q, want %q", e.OrderID, "ord-1")
		}
	}
	// Redispatch with a fresh header is the newer row.
	if entries[0].HeaderID != 2 || !entries[0].Delivered {
		t.Errorf("newest dispatch = %+v, want delivered header 2", entries[0])
	}
}

func TestRobotEvents(t *testing.T) {
	db := testDB(t)

	if err := db.AppendRobotEvent("AGV_1", "connection", "ONLINE"); err != nil {
		t.Fatalf("append: %v", err)
	}
	db.AppendRobotEvent("AGV_1", "connection", "CONNECTIONBROKEN")
	db.AppendRobotEvent("AGV_2", "error", "batteryLow")

	events, err := db.ListRobotEvents(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	if events[0].RobotSerial != "AGV_2" || events[0].EventType != "error" {
		t.Errorf("first event = %+v, want AGV_2 error", events[0])
	}

	forOne, err := db.ListRobotEventsBySerial("AGV_1", 10)
	if err != nil {
		t.Fatalf("list by serial: %v", err)
	}
	if len(forOne) != 2 {
		t.Fatalf("AGV_1 events = %d, want 2", len(forOne))
	}
	if forOne[0].Detail != "CONNECTIONBROKEN" {
		t.Errorf("newest detail = %q, want %q", forOne[0].Detail, "CONNECTIONBROKEN")
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"SELECT * FROM t WHERE a=? AND b=?", "SELECT * FROM t WHERE a=$1 AND b=$2"},
		{"INSERT INTO t (a) VALUES (?)", "INSERT INTO t (a) VALUES ($1)"},
		{"SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		got := Rebind(tt.input)
		if got != tt.want {
			t.Errorf("Rebind(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
