package flydb

import (
	"reflect"
	"testing"
)

func TestResultSetFromStructured(t *testing.T) {
	rs, err := resultSetFromStructured(
		[]any{"id", "name", "score"},
		[]any{
			[]any{int64(1), "Alice", 9.5},
			[]any{int64(2), "Bob", nil},
		})
	if err != nil {
		t.Fatalf("resultSetFromStructured failed: %v", err)
	}

	wantColumns := []Column{
		{Name: "id", Type: "INT"},
		{Name: "name", Type: "TEXT"},
		{Name: "score", Type: "FLOAT"},
	}
	if !reflect.DeepEqual(rs.Columns(), wantColumns) {
		t.Errorf("Columns = %v, want %v", rs.Columns(), wantColumns)
	}
	if rs.Len() != 2 || rs.RowCount() != 2 {
		t.Errorf("Expected 2 rows, got Len=%d RowCount=%d", rs.Len(), rs.RowCount())
	}

	row := rs.Row(1)
	if v, ok := row.Value("name"); !ok || v != "Bob" {
		t.Errorf("Row(1).Value(name) = %v, %v", v, ok)
	}
	if v, ok := row.Value("score"); !ok || v != nil {
		t.Errorf("Row(1).Value(score) = %v, %v; want nil", v, ok)
	}
	if _, ok := row.Value("missing"); ok {
		t.Error("Lookup of unknown column should report not found")
	}
}

func TestResultSetColumnTypeAllNull(t *testing.T) {
	rs, err := resultSetFromStructured(
		[]any{"x"},
		[]any{[]any{nil}, []any{nil}})
	if err != nil {
		t.Fatalf("resultSetFromStructured failed: %v", err)
	}
	if rs.Columns()[0].Type != "NULL" {
		t.Errorf("All-null column inferred as %q, want NULL", rs.Columns()[0].Type)
	}
}

func TestResultSetRejectsArityMismatch(t *testing.T) {
	_, err := resultSetFromStructured(
		[]any{"a", "b"},
		[]any{[]any{int64(1)}})
	if !IsProtocolError(err) {
		t.Errorf("Expected protocol error for arity mismatch, got %v", err)
	}
}

func TestResultSetRejectsMalformedRows(t *testing.T) {
	if _, err := resultSetFromStructured([]any{"a"}, []any{"not a row"}); !IsProtocolError(err) {
		t.Errorf("Expected protocol error for scalar row, got %v", err)
	}
	if _, err := resultSetFromStructured([]any{int64(1)}, nil); !IsProtocolError(err) {
		t.Errorf("Expected protocol error for non-string column, got %v", err)
	}
}

func TestResultSetFromExecMessage(t *testing.T) {
	rs, err := resultSetFromQueryPayload(Payload{
		"success": true,
		"message": "INSERT 3",
	})
	if err != nil {
		t.Fatalf("resultSetFromQueryPayload failed: %v", err)
	}
	if rs.RowCount() != 3 {
		t.Errorf("RowCount = %d, want 3", rs.RowCount())
	}
	if rs.Len() != 0 {
		t.Errorf("Exec results must carry no rows, got %d", rs.Len())
	}
	if rs.Message() != "INSERT 3" {
		t.Errorf("Message = %q", rs.Message())
	}
}

func TestResultSetFromTextRows(t *testing.T) {
	rs, err := resultSetFromQueryPayload(Payload{
		"success": true,
		"message": "1, Alice\n2, Bob\n(2 rows)",
	})
	if err != nil {
		t.Fatalf("resultSetFromQueryPayload failed: %v", err)
	}
	if rs.Len() != 2 {
		t.Fatalf("Expected 2 rows, got %d", rs.Len())
	}
	if rs.Columns()[0].Name != "column_0" || rs.Columns()[0].Type != "INT" {
		t.Errorf("Unexpected first column: %+v", rs.Columns()[0])
	}
	if v, ok := rs.Row(0).Value("column_1"); !ok || v != "Alice" {
		t.Errorf("Row(0).Value(column_1) = %v, %v", v, ok)
	}
}

func TestResultSetStructuredPreferredOverText(t *testing.T) {
	rs, err := resultSetFromQueryPayload(Payload{
		"success": true,
		"columns": []any{"id"},
		"rows":    []any{[]any{int64(7)}},
		"message": "ignored, structured data wins",
	})
	if err != nil {
		t.Fatalf("resultSetFromQueryPayload failed: %v", err)
	}
	if rs.Len() != 1 || rs.Columns()[0].Name != "id" {
		t.Errorf("Structured payload not preferred: %+v", rs)
	}
}

func TestRowValuesReturnsCopy(t *testing.T) {
	rs, err := resultSetFromStructured([]any{"a"}, []any{[]any{int64(1)}})
	if err != nil {
		t.Fatalf("resultSetFromStructured failed: %v", err)
	}
	values := rs.Row(0).Values()
	values[0] = int64(999)
	if rs.Row(0).Index(0) != int64(1) {
		t.Error("Mutating the Values copy must not affect the row")
	}
}
