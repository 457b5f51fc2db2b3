package flydb

import "fmt"

// Stmt is a statement prepared on the server. Parameters are bound
// server-side, so values travel as JSON rather than as SQL literals.
//
// A statement is only valid on the connection that prepared it.
type Stmt struct {
	conn   *Conn
	id     string
	query  string
	closed bool
}

// Prepare sends the query to the server for parsing and returns a
// handle that can be executed repeatedly with different parameters.
func (c *Conn) Prepare(query string) (*Stmt, error) {
	resp, err := c.request(MsgPrepare, preparePayload(query))
	if err != nil {
		return nil, err
	}

	switch resp.Type {
	case MsgPrepareResult:
		if !resp.Payload.getBool("success") {
			return nil, NewError(KindQuery, resp.Payload.getString("reason"))
		}
		id := resp.Payload.getString("statementId")
		if id == "" {
			return nil, NewProtocolError("prepare result missing statement id", nil)
		}
		return &Stmt{conn: c, id: id, query: query}, nil
	case MsgError:
		return nil, serverError(resp.Payload)
	default:
		return nil, NewProtocolError(fmt.Sprintf("unexpected %s response to PREPARE", resp.Type), nil)
	}
}

// Query executes the statement with the given parameters and returns
// the result set.
func (s *Stmt) Query(args ...any) (*ResultSet, error) {
	if s.closed {
		return nil, NewInterfaceError("statement is closed")
	}
	params, err := convertStatementArgs(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.conn.request(MsgExecute, executePayload(s.id, params))
	if err != nil {
		return nil, err
	}

	switch resp.Type {
	case MsgQueryResult:
		if !resp.Payload.getBool("success") {
			return nil, NewError(KindQuery, resp.Payload.getString("reason"))
		}
		return resultSetFromQueryPayload(resp.Payload)
	case MsgError:
		return nil, serverError(resp.Payload)
	default:
		return nil, NewProtocolError(fmt.Sprintf("unexpected %s response to EXECUTE", resp.Type), nil)
	}
}

// Exec executes the statement and returns the number of affected rows.
func (s *Stmt) Exec(args ...any) (int64, error) {
	res, err := s.Query(args...)
	if err != nil {
		return 0, err
	}
	return res.RowCount(), nil
}

// Close deallocates the statement on the server. Closing an already
// closed statement is a no-op.
func (s *Stmt) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn.Closed() {
		return nil
	}
	resp, err := s.conn.request(MsgDeallocate, deallocatePayload(s.id))
	if err != nil {
		return err
	}
	if resp.Type == MsgError {
		return serverError(resp.Payload)
	}
	return nil
}

// ID returns the server-assigned statement identifier.
func (s *Stmt) ID() string { return s.id }

// convertStatementArgs rewrites parameters into JSON-safe values.
func convertStatementArgs(args []any) ([]any, error) {
	params := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case nil, bool, string, int64, float64:
			params[i] = v
		case int:
			params[i] = int64(v)
		case int8:
			params[i] = int64(v)
		case int16:
			params[i] = int64(v)
		case int32:
			params[i] = int64(v)
		case uint:
			params[i] = int64(v)
		case uint8:
			params[i] = int64(v)
		case uint16:
			params[i] = int64(v)
		case uint32:
			params[i] = int64(v)
		case uint64:
			params[i] = int64(v)
		case float32:
			params[i] = float64(v)
		case []byte:
			params[i] = string(v)
		default:
			return nil, NewDataError(fmt.Sprintf("cannot pass value of type %T as a statement parameter", arg))
		}
	}
	return params, nil
}
