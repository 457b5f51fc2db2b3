package flydb

import (
	"testing"
)

// seededCursor returns a cursor over a five-row table.
func seededCursor(t *testing.T, options ...TestServerOption) (*TestServer, *Cursor) {
	t.Helper()
	srv := startServer(t, options...)
	if err := srv.Exec("CREATE TABLE items (id INTEGER, label TEXT)"); err != nil {
		t.Fatalf("Seeding failed: %v", err)
	}
	for i, label := range []string{"a", "b", "c", "d", "e"} {
		if err := srv.Exec("INSERT INTO items VALUES (?, ?)", i+1, label); err != nil {
			t.Fatalf("Seeding failed: %v", err)
		}
	}

	conn := connect(t, srv)
	cur, err := conn.Cursor()
	if err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}
	return srv, cur
}

func TestFetchOneUntilExhausted(t *testing.T) {
	_, cur := seededCursor(t)
	if err := cur.Execute("SELECT id FROM items ORDER BY id"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	for want := int64(1); want <= 5; want++ {
		row, err := cur.FetchOne()
		if err != nil {
			t.Fatalf("FetchOne failed: %v", err)
		}
		if row == nil {
			t.Fatalf("FetchOne returned nil before exhaustion (want id %d)", want)
		}
		if row.Index(0) != want {
			t.Errorf("FetchOne id = %v, want %d", row.Index(0), want)
		}
	}

	row, err := cur.FetchOne()
	if err != nil {
		t.Fatalf("FetchOne after exhaustion failed: %v", err)
	}
	if row != nil {
		t.Errorf("Expected nil row at exhaustion, got %v", row)
	}
}

func TestFetchManyGrid(t *testing.T) {
	_, cur := seededCursor(t)
	if err := cur.Execute("SELECT id FROM items ORDER BY id"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	for _, want := range []int{2, 2, 1, 0} {
		rows, err := cur.FetchMany(2)
		if err != nil {
			t.Fatalf("FetchMany failed: %v", err)
		}
		if len(rows) != want {
			t.Errorf("FetchMany(2) returned %d rows, want %d", len(rows), want)
		}
	}
}

func TestFetchManyUsesArraySize(t *testing.T) {
	_, cur := seededCursor(t)
	if err := cur.Execute("SELECT id FROM items"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	cur.ArraySize = 3
	rows, err := cur.FetchMany(0)
	if err != nil {
		t.Fatalf("FetchMany failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("FetchMany(0) with ArraySize=3 returned %d rows", len(rows))
	}
}

func TestFetchAllAfterPartialFetch(t *testing.T) {
	_, cur := seededCursor(t)
	if err := cur.Execute("SELECT id FROM items ORDER BY id"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if _, err := cur.FetchOne(); err != nil {
		t.Fatalf("FetchOne failed: %v", err)
	}
	rows, err := cur.FetchAll()
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(rows) != 4 {
		t.Errorf("FetchAll after one FetchOne returned %d rows, want 4", len(rows))
	}
	if rows[0].Index(0) != int64(2) {
		t.Errorf("FetchAll resumed at id %v, want 2", rows[0].Index(0))
	}
}

func TestFetchBeforeExecute(t *testing.T) {
	srv, cur := seededCursor(t)
	srv.ClearHistory()

	if _, err := cur.FetchOne(); !IsProgrammingError(err) {
		t.Errorf("Expected programming error, got %v", err)
	}
	if _, err := cur.FetchAll(); !IsProgrammingError(err) {
		t.Errorf("Expected programming error, got %v", err)
	}

	// Misuse is detected client-side; no frame goes out.
	if n := len(srv.History()); n != 0 {
		t.Errorf("Fetch misuse generated %d network requests", n)
	}
}

func TestRowsIterator(t *testing.T) {
	_, cur := seededCursor(t)
	if err := cur.Execute("SELECT label FROM items ORDER BY id"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var labels []string
	for row := range cur.Rows() {
		labels = append(labels, row.Index(0).(string))
	}
	if len(labels) != 5 || labels[0] != "a" || labels[4] != "e" {
		t.Errorf("Unexpected iteration order: %v", labels)
	}

	// The cursor is exhausted: a second loop yields nothing.
	count := 0
	for range cur.Rows() {
		count++
	}
	if count != 0 {
		t.Errorf("Second iteration yielded %d rows, want 0", count)
	}
}

func TestRowsIteratorEarlyBreak(t *testing.T) {
	_, cur := seededCursor(t)
	if err := cur.Execute("SELECT id FROM items ORDER BY id"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	for range cur.Rows() {
		break
	}
	row, err := cur.FetchOne()
	if err != nil {
		t.Fatalf("FetchOne failed: %v", err)
	}
	if row == nil || row.Index(0) != int64(2) {
		t.Errorf("Cursor position after break: got %v, want id 2", row)
	}
}

func TestExecuteNamed(t *testing.T) {
	_, cur := seededCursor(t)
	err := cur.ExecuteNamed(
		"SELECT label FROM items WHERE id = %(id)s OR label = %(label)s ORDER BY id",
		map[string]any{"id": 1, "label": "c"})
	if err != nil {
		t.Fatalf("ExecuteNamed failed: %v", err)
	}
	rows, err := cur.FetchAll()
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("Expected 2 rows, got %d", len(rows))
	}
}

func TestExecuteManyAccumulatesRowCount(t *testing.T) {
	_, cur := seededCursor(t)
	err := cur.ExecuteMany("INSERT INTO items VALUES (%s, %s)", [][]any{
		{10, "x"},
		{11, "y"},
		{12, "z"},
	})
	if err != nil {
		t.Fatalf("ExecuteMany failed: %v", err)
	}
	if cur.RowCount() != 3 {
		t.Errorf("RowCount after ExecuteMany = %d, want 3", cur.RowCount())
	}
}

func TestExecuteManyStopsAtFirstFailure(t *testing.T) {
	srv, cur := seededCursor(t)
	if err := srv.Exec("CREATE UNIQUE INDEX items_id ON items (id)"); err != nil {
		t.Fatalf("Index creation failed: %v", err)
	}

	err := cur.ExecuteMany("INSERT INTO items VALUES (%s, %s)", [][]any{
		{20, "ok"},
		{20, "duplicate"},
		{21, "never reached"},
	})
	if !IsIntegrityError(err) {
		t.Fatalf("Expected integrity error, got %v", err)
	}

	if err := cur.Execute("SELECT COUNT(*) FROM items WHERE id >= %s", 20); err != nil {
		t.Fatalf("SELECT failed: %v", err)
	}
	row, _ := cur.FetchOne()
	if row.Index(0) != int64(1) {
		t.Errorf("Expected only the first insert to land, count = %v", row.Index(0))
	}
}

func TestExecuteFailureKeepsPreviousResult(t *testing.T) {
	_, cur := seededCursor(t)
	if err := cur.Execute("SELECT id FROM items ORDER BY id"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := cur.FetchOne(); err != nil {
		t.Fatalf("FetchOne failed: %v", err)
	}

	if err := cur.Execute("SELECT nope FROM items"); err == nil {
		t.Fatal("Expected error for bad column")
	}

	// The failed execute must not disturb the previous result set.
	row, err := cur.FetchOne()
	if err != nil {
		t.Fatalf("FetchOne after failed execute: %v", err)
	}
	if row == nil || row.Index(0) != int64(2) {
		t.Errorf("Previous result set disturbed: got %v", row)
	}
}

func TestRowCountBeforeExecute(t *testing.T) {
	srv := startServer(t)
	conn := connect(t, srv)
	cur, _ := conn.Cursor()
	if cur.RowCount() != -1 {
		t.Errorf("RowCount before execute = %d, want -1", cur.RowCount())
	}
	if cur.Description() != nil {
		t.Errorf("Description before execute = %v, want nil", cur.Description())
	}
}

func TestCursorClose(t *testing.T) {
	_, cur := seededCursor(t)
	if err := cur.Execute("SELECT id FROM items"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if err := cur.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := cur.Close(); err != nil {
		t.Errorf("Second Close should succeed, got %v", err)
	}

	if err := cur.Execute("SELECT 1"); !IsInterfaceError(err) {
		t.Errorf("Expected interface error for Execute on closed cursor, got %v", err)
	}
	if _, err := cur.FetchOne(); !IsInterfaceError(err) {
		t.Errorf("Expected interface error for FetchOne on closed cursor, got %v", err)
	}
}

func TestTextResultMode(t *testing.T) {
	_, cur := seededCursor(t, WithTextResults())
	if err := cur.Execute("SELECT id, label FROM items ORDER BY id"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	desc := cur.Description()
	if len(desc) != 2 || desc[0].Name != "column_0" {
		t.Fatalf("Expected generated column names, got %+v", desc)
	}

	rows, err := cur.FetchAll()
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("Expected 5 rows, got %d", len(rows))
	}
	if rows[0].Index(0) != int64(1) || rows[0].Index(1) != "a" {
		t.Errorf("Unexpected first row: %v", rows[0])
	}
	if cur.RowCount() != 5 {
		t.Errorf("RowCount = %d, want 5", cur.RowCount())
	}
}
