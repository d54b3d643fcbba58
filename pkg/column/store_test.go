package column

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testSchema() Schema {
	return Schema{
		Name:       "docs",
		PrimaryKey: "id",
		Columns: []ColumnDef{
			{Name: "id", Type: TypeInt64},
			{Name: "title", Type: TypeString},
			{Name: "score", Type: TypeFloat64},
			{Name: "active", Type: TypeBool},
		},
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"), testSchema())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	row := Row{"id": int64(1), "title": "hello", "score": 3.5, "active": true}
	if err := s.Upsert(ctx, row, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := s.Get(ctx, int64(1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected row to be found")
	}
	if got["title"] != "hello" {
		t.Fatalf("title = %v, want hello", got["title"])
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Upsert(ctx, Row{"id": int64(1), "title": "v1", "score": 1.0, "active": false}, nil); err != nil {
		t.Fatalf("Upsert v1: %v", err)
	}
	if err := s.Upsert(ctx, Row{"id": int64(1), "title": "v2", "score": 2.0, "active": true}, nil); err != nil {
		t.Fatalf("Upsert v2: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after replace", s.Len())
	}

	got, ok, err := s.Get(ctx, int64(1))
	if err != nil || !ok {
		t.Fatalf("Get after replace: ok=%v err=%v", ok, err)
	}
	if got["title"] != "v2" {
		t.Fatalf("title = %v, want v2 after replace", got["title"])
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Upsert(ctx, Row{"id": int64(5), "title": "x", "score": 0.0, "active": false}, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(ctx, int64(5)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err := s.Get(ctx, int64(5))
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected row to be gone after delete")
	}
	if err := s.Delete(ctx, int64(999)); err != nil {
		t.Fatalf("deleting an absent key should be a no-op, got: %v", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ttl := -1 * time.Second // already expired
	if err := s.Upsert(ctx, Row{"id": int64(9), "title": "stale", "score": 0.0, "active": false}, &ttl); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	_, ok, err := s.Get(ctx, int64(9))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expired row should not be visible via Get")
	}

	scanned, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	for _, r := range scanned {
		if r["id"] == int64(9) {
			t.Fatalf("expired row should not appear in Scan")
		}
	}
}

func TestVacuumReclaimsExpiredRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ttl := -1 * time.Second
	for i := int64(1); i <= 3; i++ {
		if err := s.Upsert(ctx, Row{"id": i, "title": "stale", "score": 0.0, "active": false}, &ttl); err != nil {
			t.Fatalf("Upsert(%d): %v", i, err)
		}
	}
	live := time.Hour
	if err := s.Upsert(ctx, Row{"id": int64(4), "title": "fresh", "score": 0.0, "active": true}, &live); err != nil {
		t.Fatalf("Upsert(4): %v", err)
	}

	removed, err := s.Vacuum(ctx)
	if err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if removed != 3 {
		t.Fatalf("Vacuum removed %d rows, want 3", removed)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d after vacuum, want 1", s.Len())
	}
	_, ok, err := s.Get(ctx, int64(4))
	if err != nil || !ok {
		t.Fatalf("fresh row should survive vacuum: ok=%v err=%v", ok, err)
	}
}

func TestScanOrdersByPrimaryKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, id := range []int64{3, 1, 2} {
		if err := s.Upsert(ctx, Row{"id": id, "title": "r", "score": 0.0, "active": false}, nil); err != nil {
			t.Fatalf("Upsert(%d): %v", id, err)
		}
	}
	rows, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Scan returned %d rows, want 3", len(rows))
	}
	for i, want := range []int64{1, 2, 3} {
		if rows[i]["id"] != want {
			t.Fatalf("row %d id = %v, want %v", i, rows[i]["id"], want)
		}
	}
}

func TestMissingPrimaryKeyRejected(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	err := s.Upsert(ctx, Row{"title": "no id"}, nil)
	if err == nil {
		t.Fatalf("expected an error for a row missing its primary key")
	}
}

func TestHashJoinInner(t *testing.T) {
	left := []Row{
		{"id": int64(1), "name": "alice"},
		{"id": int64(2), "name": "bob"},
	}
	right := []Row{
		{"user_id": int64(1), "role": "admin"},
	}
	joined, err := HashJoin(left, right, "id", "user_id", JoinInner)
	if err != nil {
		t.Fatalf("HashJoin: %v", err)
	}
	if len(joined) != 1 {
		t.Fatalf("HashJoin inner returned %d rows, want 1", len(joined))
	}
	if joined[0]["role"] != "admin" {
		t.Fatalf("joined row missing matched column: %v", joined[0])
	}
}

func TestHashJoinLeftKeepsUnmatched(t *testing.T) {
	left := []Row{
		{"id": int64(1), "name": "alice"},
		{"id": int64(2), "name": "bob"},
	}
	right := []Row{
		{"user_id": int64(1), "role": "admin"},
	}
	joined, err := HashJoin(left, right, "id", "user_id", JoinLeft)
	if err != nil {
		t.Fatalf("HashJoin: %v", err)
	}
	if len(joined) != 2 {
		t.Fatalf("HashJoin left returned %d rows, want 2", len(joined))
	}
	var sawUnmatched bool
	for _, r := range joined {
		if r["name"] == "bob" {
			if _, hasRole := r["role"]; hasRole {
				t.Fatalf("unmatched left row should not gain a role column")
			}
			sawUnmatched = true
		}
	}
	if !sawUnmatched {
		t.Fatalf("expected to see bob's unmatched row")
	}
}
