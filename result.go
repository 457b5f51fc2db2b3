package flydb

import (
	"fmt"
)

// Column describes one column of a result set: its name and the type
// inferred from the data (INT, FLOAT, BOOL, TEXT or NULL).
type Column struct {
	Name string
	Type string
}

// Row is one fixed-arity row of a result set. Values are immutable once the
// row is constructed and can be addressed by position or by column name.
type Row struct {
	columns []string
	values  []any
}

// Len returns the number of values in the row.
func (r Row) Len() int {
	return len(r.values)
}

// Index returns the value at position i.
func (r Row) Index(i int) any {
	return r.values[i]
}

// Value looks a value up by column name.
func (r Row) Value(name string) (any, bool) {
	for i, col := range r.columns {
		if col == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Values returns the row's values in column order. The returned slice is a
// copy; mutating it does not affect the row.
func (r Row) Values() []any {
	out := make([]any, len(r.values))
	copy(out, r.values)
	return out
}

func (r Row) String() string {
	return fmt.Sprintf("Row%v", r.values)
}

// ResultSet is the materialized outcome of one execute: an ordered sequence
// of rows plus column descriptions and a row count. A cursor owns exactly
// one result set at a time and replaces it wholesale on each execute.
type ResultSet struct {
	columns  []Column
	rows     []Row
	rowCount int64
	message  string
}

// Columns returns the column descriptions, or nil for statements that
// produce no rows.
func (rs *ResultSet) Columns() []Column {
	return rs.columns
}

// Len returns the number of rows materialized in the set.
func (rs *ResultSet) Len() int {
	return len(rs.rows)
}

// Row returns the row at position i.
func (rs *ResultSet) Row(i int) Row {
	return rs.rows[i]
}

// RowCount returns the number of rows returned or affected by the
// statement.
func (rs *ResultSet) RowCount() int64 {
	return rs.rowCount
}

// Message returns the server's textual status line, when one was sent.
func (rs *ResultSet) Message() string {
	return rs.message
}

// resultSetFromQueryPayload materializes a QUERY_RESULT payload. The server
// may send structured columns/rows, or only a free-text message that is
// parsed heuristically; both shapes must be tolerated.
func resultSetFromQueryPayload(payload Payload) (*ResultSet, error) {
	message := payload.getString("message")

	if rawRows := payload.getSlice("rows"); rawRows != nil {
		rs, err := resultSetFromStructured(payload.getSlice("columns"), rawRows)
		if err != nil {
			return nil, err
		}
		rs.message = message
		if rs.rowCount == 0 && message != "" {
			// Exec-style statements carry their affected count only in
			// the status line ("INSERT 3").
			if parsed := ParseTextResult(message); parsed.RowCount > 0 {
				rs.rowCount = parsed.RowCount
			}
		}
		return rs, nil
	}

	if message == "" {
		return &ResultSet{}, nil
	}

	parsed := ParseTextResult(message)
	names := parsed.Columns
	rows := make([]Row, 0, len(parsed.Rows))
	for _, values := range parsed.Rows {
		rows = append(rows, Row{columns: names, values: values})
	}
	return &ResultSet{
		columns:  describeColumns(names, rows),
		rows:     rows,
		rowCount: parsed.RowCount,
		message:  message,
	}, nil
}

// resultSetFromStructured materializes explicit columns/rows payload fields.
func resultSetFromStructured(rawColumns, rawRows []any) (*ResultSet, error) {
	names := make([]string, 0, len(rawColumns))
	for _, c := range rawColumns {
		s, ok := c.(string)
		if !ok {
			return nil, NewProtocolError(fmt.Sprintf("column name is not a string: %v", c), nil)
		}
		names = append(names, s)
	}

	rows := make([]Row, 0, len(rawRows))
	for i, raw := range rawRows {
		values, ok := raw.([]any)
		if !ok {
			return nil, NewProtocolError(fmt.Sprintf("row %d is not an array", i), nil)
		}
		if len(names) > 0 && len(values) != len(names) {
			return nil, NewProtocolError(
				fmt.Sprintf("row %d has %d values for %d columns", i, len(values), len(names)), nil)
		}
		rows = append(rows, Row{columns: names, values: values})
	}

	return &ResultSet{
		columns:  describeColumns(names, rows),
		rows:     rows,
		rowCount: int64(len(rows)),
	}, nil
}

// describeColumns pairs each column name with a type inferred from the
// first non-NULL value in that column.
func describeColumns(names []string, rows []Row) []Column {
	if len(names) == 0 {
		return nil
	}
	columns := make([]Column, len(names))
	for i, name := range names {
		columns[i] = Column{Name: name, Type: inferColumnType(rows, i)}
	}
	return columns
}

func inferColumnType(rows []Row, col int) string {
	for _, row := range rows {
		if col >= len(row.values) || row.values[col] == nil {
			continue
		}
		switch row.values[col].(type) {
		case bool:
			return "BOOL"
		case int64:
			return "INT"
		case float64:
			return "FLOAT"
		case string:
			return "TEXT"
		}
	}
	return "NULL"
}
