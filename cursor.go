package flydb

import (
	"fmt"
	"iter"
)

// Cursor executes SQL statements on its owning connection and exposes the
// materialized results through forward-only fetch calls.
//
// A cursor holds a mutable read position and result set with no internal
// locking: it must not be used from multiple goroutines at once. The
// connection's lock only serializes the wire exchanges underneath.
type Cursor struct {
	conn *Conn

	// ArraySize is the default number of rows FetchMany returns when
	// called with a non-positive size.
	ArraySize int

	res      *ResultSet
	pos      int
	rowcount int64
	closed   bool
}

// Execute runs a SQL statement, substituting each %s placeholder with the
// corresponding escaped argument. Placeholder/argument count mismatches and
// unserializable values fail before any network I/O. A successful execute
// replaces the cursor's result set wholesale; a server error leaves the
// previous result set untouched.
func (c *Cursor) Execute(query string, args ...any) error {
	if len(args) > 0 {
		bound, err := bindPositional(query, args)
		if err != nil {
			return err
		}
		query = bound
	}
	return c.run(query)
}

// ExecuteNamed runs a SQL statement with %(name)s placeholders resolved
// against args. A missing key fails before any network I/O.
func (c *Cursor) ExecuteNamed(query string, args map[string]any) error {
	if len(args) > 0 {
		bound, err := bindNamed(query, args)
		if err != nil {
			return err
		}
		query = bound
	}
	return c.run(query)
}

// ExecuteMany runs the statement once per parameter set, sequentially and
// in order, stopping at the first failure. The row count accumulates across
// the completed executions.
func (c *Cursor) ExecuteMany(query string, paramSets [][]any) error {
	var total int64
	for _, params := range paramSets {
		if err := c.Execute(query, params...); err != nil {
			return err
		}
		if c.rowcount > 0 {
			total += c.rowcount
		}
	}
	c.rowcount = total
	return nil
}

// ExecuteManyNamed is ExecuteMany for named parameter sets.
func (c *Cursor) ExecuteManyNamed(query string, paramSets []map[string]any) error {
	var total int64
	for _, params := range paramSets {
		if err := c.ExecuteNamed(query, params); err != nil {
			return err
		}
		if c.rowcount > 0 {
			total += c.rowcount
		}
	}
	c.rowcount = total
	return nil
}

func (c *Cursor) run(query string) error {
	if c.closed {
		return NewInterfaceError("cursor is closed")
	}
	if c.conn.Closed() {
		return NewInterfaceError("connection is closed")
	}

	resp, err := c.conn.request(MsgQuery, queryPayload(query))
	if err != nil {
		return err
	}

	switch resp.Type {
	case MsgQueryResult:
		if !resp.Payload.getBool("success") {
			message := resp.Payload.getString("message")
			if message == "" {
				message = "query failed"
			}
			return NewError(KindQuery, message)
		}
		rs, err := resultSetFromQueryPayload(resp.Payload)
		if err != nil {
			return err
		}
		c.res = rs
		c.pos = 0
		c.rowcount = rs.RowCount()
		return nil
	case MsgError:
		return serverError(resp.Payload)
	default:
		return NewProtocolError(fmt.Sprintf("unexpected response to QUERY: %s", resp.Type), nil)
	}
}

// FetchOne returns the next row and advances the read position, or (nil,
// nil) when the result set is exhausted. Fetching before any execute is
// caller misuse.
func (c *Cursor) FetchOne() (*Row, error) {
	if err := c.fetchable(); err != nil {
		return nil, err
	}
	if c.pos >= c.res.Len() {
		return nil, nil
	}
	row := c.res.Row(c.pos)
	c.pos++
	return &row, nil
}

// FetchMany returns up to size rows from the current position, fewer at the
// end of the set and an empty slice once exhausted. A non-positive size
// falls back to ArraySize.
func (c *Cursor) FetchMany(size int) ([]Row, error) {
	if err := c.fetchable(); err != nil {
		return nil, err
	}
	if size <= 0 {
		size = c.ArraySize
	}

	rows := make([]Row, 0, size)
	for len(rows) < size && c.pos < c.res.Len() {
		rows = append(rows, c.res.Row(c.pos))
		c.pos++
	}
	return rows, nil
}

// FetchAll returns all remaining rows and advances the position to the end
// of the set.
func (c *Cursor) FetchAll() ([]Row, error) {
	if err := c.fetchable(); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, c.res.Len()-c.pos)
	for c.pos < c.res.Len() {
		rows = append(rows, c.res.Row(c.pos))
		c.pos++
	}
	return rows, nil
}

// Rows iterates over the remaining rows, advancing the cursor as it goes.
// The sequence is lazy, finite and not restartable: once the cursor is
// exhausted it yields nothing. Iterating a closed or never-executed cursor
// also yields nothing.
func (c *Cursor) Rows() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for {
			row, err := c.FetchOne()
			if err != nil || row == nil {
				return
			}
			if !yield(*row) {
				return
			}
		}
	}
}

func (c *Cursor) fetchable() error {
	if c.closed {
		return NewInterfaceError("cursor is closed")
	}
	if c.res == nil {
		return NewProgrammingError("no result set: call Execute before fetching")
	}
	return nil
}

// Description returns (name, type) pairs for the most recent result set's
// columns, or nil when the last statement produced no rows.
func (c *Cursor) Description() []Column {
	if c.res == nil {
		return nil
	}
	return c.res.Columns()
}

// RowCount returns the row count of the last operation: rows returned for
// queries, rows affected for other statements, or -1 before any execute.
func (c *Cursor) RowCount() int64 {
	return c.rowcount
}

// Result returns the current result set, or nil before any execute.
func (c *Cursor) Result() *ResultSet {
	return c.res
}

// Closed reports whether the cursor has been closed.
func (c *Cursor) Closed() bool {
	return c.closed
}

// Close marks the cursor closed and discards its result set. Close is
// idempotent; any later execute or fetch fails with an interface error.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.res = nil
	c.pos = 0
	c.rowcount = -1
	return nil
}
