package flydb

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// TestServer is an in-process FlyDB server backed by an in-memory SQLite
// database. It speaks the real binary protocol on a loopback listener, so
// tests exercise the full codec and connection paths without a running
// server.
type TestServer struct {
	listener net.Listener
	db       *sqlx.DB
	logger   *slog.Logger

	user          string
	password      string
	textResults   bool
	serverVersion string

	mu       sync.Mutex
	history  []*Message
	failNext *Error
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// TestServerOption configures a TestServer.
type TestServerOption func(*TestServer)

// WithTestCredentials makes the server require an AUTH exchange with the
// given credentials before accepting queries.
func WithTestCredentials(user, password string) TestServerOption {
	return func(s *TestServer) {
		s.user = user
		s.password = password
	}
}

// WithTextResults makes the server answer SELECT queries with textual
// result payloads instead of structured columns and rows.
func WithTextResults() TestServerOption {
	return func(s *TestServer) {
		s.textResults = true
	}
}

// WithTestServerVersion overrides the version string reported by the
// server info handshake.
func WithTestServerVersion(version string) TestServerOption {
	return func(s *TestServer) {
		s.serverVersion = version
	}
}

// NewTestServer starts a server on a random loopback port. Callers must
// Close it when done.
func NewTestServer(options ...TestServerOption) (*TestServer, error) {
	srv := &TestServer{
		serverVersion: "FlyDB test 1.0",
		logger:        slog.Default().With("component", "flydb-testserver"),
		conns:         make(map[net.Conn]struct{}),
	}
	for _, option := range options {
		option(srv)
	}

	// A shared-cache in-memory database with a unique name: every
	// connection accepted by this server sees the same tables, and two
	// servers in one process stay isolated.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open backing database: %w", err)
	}
	// Shared-cache memory databases vanish when the last connection
	// closes; pin one open for the server's lifetime.
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping backing database: %w", err)
	}
	srv.db = db

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}
	srv.listener = listener

	srv.wg.Add(1)
	go srv.acceptLoop()
	return srv, nil
}

// Addr returns the host:port the server is listening on.
func (s *TestServer) Addr() string {
	return s.listener.Addr().String()
}

// DSN returns a URI-form DSN pointing at the server, including the
// configured credentials.
func (s *TestServer) DSN() string {
	host, portStr, _ := net.SplitHostPort(s.Addr())
	port, _ := strconv.Atoi(portStr)
	return FormatDSN(DSNParams{Host: host, Port: port, User: s.user, Password: s.password})
}

// Exec runs a statement directly against the backing database, bypassing
// the protocol. Useful for seeding test fixtures.
func (s *TestServer) Exec(query string, args ...any) error {
	_, err := s.db.Exec(query, args...)
	return err
}

// History returns a copy of every message the server has received, in
// arrival order across all connections.
func (s *TestServer) History() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]*Message, len(s.history))
	copy(history, s.history)
	return history
}

// ClearHistory discards the recorded message history.
func (s *TestServer) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// FailNext makes the server answer the next request (on any connection)
// with an ERROR carrying the given SQLSTATE and message.
func (s *TestServer) FailNext(sqlstate, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = &Error{Kind: KindDatabase, Message: message, SQLState: sqlstate}
}

// Close stops the listener and releases the backing database. In-flight
// connections are dropped.
func (s *TestServer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	_ = s.listener.Close()
	s.wg.Wait()
	_ = s.db.Close()
}

func (s *TestServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.logger.Error("accept failed", "error", err)
			}
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// testSession is the per-connection server state.
type testSession struct {
	authenticated bool
	tx            *sqlx.Tx
	stmts         map[string]*preparedStmt
	options       map[string]any
}

type preparedStmt struct {
	stmt *sqlx.Stmt
	sql  string
}

func (s *TestServer) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	sess := &testSession{
		authenticated: s.user == "",
		stmts:         make(map[string]*preparedStmt),
		options:       make(map[string]any),
	}
	defer func() {
		if sess.tx != nil {
			_ = sess.tx.Rollback()
		}
		for _, ps := range sess.stmts {
			_ = ps.stmt.Close()
		}
	}()

	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.history = append(s.history, msg)
		injected := s.failNext
		s.failNext = nil
		s.mu.Unlock()

		var resp *Message
		if injected != nil {
			resp = errorMessage(injected.SQLState, injected.Message)
		} else {
			resp = s.dispatch(sess, msg)
		}
		if err := WriteMessage(conn, resp); err != nil {
			s.logger.Error("write response failed", "type", resp.Type.String(), "error", err)
			return
		}
	}
}

func (s *TestServer) dispatch(sess *testSession, msg *Message) *Message {
	switch msg.Type {
	case MsgPing:
		return NewMessage(MsgPong, nil)
	case MsgGetServerInfo:
		return NewMessage(MsgSessionResult, Payload{
			"serverVersion":   s.serverVersion,
			"protocolVersion": int64(ProtocolVersion),
			"capabilities":    []any{"transactions", "prepared-statements", "metadata"},
		})
	case MsgAuth:
		return s.handleAuth(sess, msg)
	}

	if !sess.authenticated {
		return errorMessage("28000", "authentication required")
	}

	switch msg.Type {
	case MsgQuery:
		return s.handleQuery(sess, msg.Payload.getString("sql"))
	case MsgPrepare:
		return s.handlePrepare(sess, msg.Payload.getString("sql"))
	case MsgExecute:
		return s.handleExecute(sess, msg)
	case MsgDeallocate:
		return s.handleDeallocate(sess, msg.Payload.getString("statementId"))
	case MsgBeginTx:
		return s.handleBegin(sess)
	case MsgCommitTx:
		return s.handleCommit(sess)
	case MsgRollbackTx:
		return s.handleRollback(sess)
	case MsgSavepoint:
		return s.handleSavepoint(sess, msg.Payload.getString("name"))
	case MsgSetOption:
		sess.options[msg.Payload.getString("option")] = msg.Payload["value"]
		return NewMessage(MsgSessionResult, Payload{"success": true})
	case MsgGetOption:
		option := msg.Payload.getString("option")
		return NewMessage(MsgSessionResult, Payload{
			"success": true,
			"option":  option,
			"value":   sess.options[option],
		})
	case MsgGetTables:
		return s.handleTables(sess)
	case MsgGetColumns:
		return s.handleColumns(sess, msg.Payload.getString("table"))
	default:
		return errorMessage("0A000", fmt.Sprintf("unsupported message type %s", msg.Type))
	}
}

func (s *TestServer) handleAuth(sess *testSession, msg *Message) *Message {
	user := msg.Payload.getString("user")
	password := msg.Payload.getString("password")
	if s.user != "" && (user != s.user || password != s.password) {
		return NewMessage(MsgAuthResult, Payload{
			"success": false,
			"reason":  fmt.Sprintf("access denied for user %q", user),
		})
	}
	sess.authenticated = true
	return NewMessage(MsgAuthResult, Payload{"success": true})
}

func (s *TestServer) handleQuery(sess *testSession, query string) *Message {
	if isRowQuery(query) {
		columns, rows, err := s.queryRows(sess, query)
		if err != nil {
			return sqliteErrorMessage(err)
		}
		if s.textResults {
			return NewMessage(MsgQueryResult, Payload{
				"success": true,
				"message": formatTextRows(rows),
			})
		}
		return NewMessage(MsgQueryResult, Payload{
			"success":  true,
			"columns":  stringsToAny(columns),
			"rows":     rows,
			"rowCount": int64(len(rows)),
		})
	}

	affected, err := s.execStatement(sess, query)
	if err != nil {
		return sqliteErrorMessage(err)
	}
	return NewMessage(MsgQueryResult, Payload{
		"success":  true,
		"message":  execMessage(query, affected),
		"rowCount": affected,
	})
}

func (s *TestServer) handlePrepare(sess *testSession, query string) *Message {
	stmt, err := s.db.Preparex(rewritePlaceholders(query))
	if err != nil {
		return NewMessage(MsgPrepareResult, Payload{
			"success": false,
			"reason":  err.Error(),
		})
	}
	id := uuid.NewString()
	sess.stmts[id] = &preparedStmt{stmt: stmt, sql: query}
	return NewMessage(MsgPrepareResult, Payload{
		"success":     true,
		"statementId": id,
	})
}

func (s *TestServer) handleExecute(sess *testSession, msg *Message) *Message {
	id := msg.Payload.getString("statementId")
	ps, ok := sess.stmts[id]
	if !ok {
		return errorMessage("26000", fmt.Sprintf("unknown statement %q", id))
	}
	args := msg.Payload.getSlice("params")

	stmt := ps.stmt
	if sess.tx != nil {
		stmt = sess.tx.Stmtx(ps.stmt)
		defer func() { _ = stmt.Close() }()
	}

	if isRowQuery(ps.sql) {
		columns, rows, err := scanRows(stmt.Queryx(args...))
		if err != nil {
			return sqliteErrorMessage(err)
		}
		return NewMessage(MsgQueryResult, Payload{
			"success":  true,
			"columns":  stringsToAny(columns),
			"rows":     rows,
			"rowCount": int64(len(rows)),
		})
	}

	res, err := stmt.Exec(args...)
	if err != nil {
		return sqliteErrorMessage(err)
	}
	affected, _ := res.RowsAffected()
	return NewMessage(MsgQueryResult, Payload{
		"success":  true,
		"message":  execMessage(ps.sql, affected),
		"rowCount": affected,
	})
}

func (s *TestServer) handleDeallocate(sess *testSession, id string) *Message {
	if ps, ok := sess.stmts[id]; ok {
		_ = ps.stmt.Close()
		delete(sess.stmts, id)
	}
	// Deallocating an unknown statement is a no-op, matching idempotent
	// client-side Close.
	return NewMessage(MsgQueryResult, Payload{
		"success": true,
		"message": "DEALLOCATE OK",
	})
}

func (s *TestServer) handleBegin(sess *testSession) *Message {
	if sess.tx != nil {
		return NewMessage(MsgTxResult, Payload{
			"success": false,
			"message": "transaction already in progress",
		})
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return NewMessage(MsgTxResult, Payload{"success": false, "message": err.Error()})
	}
	sess.tx = tx
	return NewMessage(MsgTxResult, Payload{"success": true})
}

func (s *TestServer) handleCommit(sess *testSession) *Message {
	if sess.tx == nil {
		return NewMessage(MsgTxResult, Payload{
			"success": false,
			"message": "no transaction in progress",
		})
	}
	err := sess.tx.Commit()
	sess.tx = nil
	if err != nil {
		return NewMessage(MsgTxResult, Payload{"success": false, "message": err.Error()})
	}
	return NewMessage(MsgTxResult, Payload{"success": true})
}

func (s *TestServer) handleRollback(sess *testSession) *Message {
	if sess.tx == nil {
		return NewMessage(MsgTxResult, Payload{
			"success": false,
			"message": "no transaction in progress",
		})
	}
	err := sess.tx.Rollback()
	sess.tx = nil
	if err != nil {
		return NewMessage(MsgTxResult, Payload{"success": false, "message": err.Error()})
	}
	return NewMessage(MsgTxResult, Payload{"success": true})
}

func (s *TestServer) handleSavepoint(sess *testSession, name string) *Message {
	if sess.tx == nil {
		return NewMessage(MsgTxResult, Payload{
			"success": false,
			"message": "no transaction in progress",
		})
	}
	if _, err := sess.tx.Exec("SAVEPOINT " + quoteIdentifier(name)); err != nil {
		return NewMessage(MsgTxResult, Payload{"success": false, "message": err.Error()})
	}
	return NewMessage(MsgTxResult, Payload{"success": true})
}

func (s *TestServer) handleTables(sess *testSession) *Message {
	_, rows, err := s.queryRows(sess,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return sqliteErrorMessage(err)
	}
	return NewMessage(MsgMetadataResult, Payload{
		"columns": []any{"name"},
		"rows":    rows,
	})
}

func (s *TestServer) handleColumns(sess *testSession, table string) *Message {
	_, rows, err := s.queryRows(sess,
		"SELECT name, type, \"notnull\", pk FROM pragma_table_info("+quoteTableLiteral(table)+")")
	if err != nil {
		return sqliteErrorMessage(err)
	}
	if len(rows) == 0 {
		return errorMessage("42P01", fmt.Sprintf("no such table: %s", table))
	}
	return NewMessage(MsgMetadataResult, Payload{
		"columns": []any{"name", "type", "notnull", "pk"},
		"rows":    rows,
	})
}

func (s *TestServer) queryRows(sess *testSession, query string) ([]string, []any, error) {
	if sess.tx != nil {
		return scanRows(sess.tx.Queryx(query))
	}
	return scanRows(s.db.Queryx(query))
}

func (s *TestServer) execStatement(sess *testSession, query string) (int64, error) {
	var res sql.Result
	var err error
	if sess.tx != nil {
		res, err = sess.tx.Exec(query)
	} else {
		res, err = s.db.Exec(query)
	}
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// scanRows drains a sqlx result into protocol row values.
func scanRows(rows *sqlx.Rows, err error) ([]string, []any, error) {
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	out := []any{}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, nil, err
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = wireValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

// wireValue rewrites a scanned SQLite value into a JSON-safe one.
func wireValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}

// isRowQuery reports whether the statement produces a row set.
func isRowQuery(query string) bool {
	fields := strings.Fields(strings.ToUpper(query))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "SELECT", "WITH", "PRAGMA", "VALUES", "EXPLAIN":
		return true
	}
	return false
}

// execMessage builds the textual acknowledgement for a non-row statement.
func execMessage(query string, affected int64) string {
	fields := strings.Fields(strings.ToUpper(query))
	if len(fields) == 0 {
		return "OK"
	}
	switch fields[0] {
	case "INSERT", "UPDATE", "DELETE":
		return fmt.Sprintf("%s %d", fields[0], affected)
	case "CREATE", "DROP", "ALTER":
		if len(fields) > 1 {
			return fmt.Sprintf("%s %s OK", fields[0], fields[1])
		}
		return fields[0] + " OK"
	}
	return "OK"
}

// formatTextRows renders rows in the textual result format: one CSV-style
// line per row followed by a "(N rows)" trailer.
func formatTextRows(rows []any) string {
	var b strings.Builder
	for _, raw := range rows {
		row, ok := raw.([]any)
		if !ok {
			continue
		}
		for i, v := range row {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(formatTextValue(v))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "(%d rows)", len(rows))
	return b.String()
}

func formatTextValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return `"` + val + `"`
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// rewritePlaceholders maps pyformat positional markers to SQLite's
// placeholder syntax for server-side binding.
func rewritePlaceholders(query string) string {
	return strings.ReplaceAll(query, "%s", "?")
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteTableLiteral(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func errorMessage(sqlstate, message string) *Message {
	return NewMessage(MsgError, Payload{
		"message":  message,
		"sqlstate": sqlstate,
		"code":     int64(1),
	})
}

// sqliteErrorMessage maps a SQLite error onto a protocol ERROR payload
// with an approximate SQLSTATE class.
func sqliteErrorMessage(err error) *Message {
	msg := err.Error()
	sqlstate := "HY000"
	switch {
	case strings.Contains(msg, "UNIQUE constraint"):
		sqlstate = "23505"
	case strings.Contains(msg, "NOT NULL constraint"):
		sqlstate = "23502"
	case strings.Contains(msg, "CHECK constraint"):
		sqlstate = "23514"
	case strings.Contains(msg, "FOREIGN KEY constraint"):
		sqlstate = "23503"
	case strings.Contains(msg, "no such table"):
		sqlstate = "42P01"
	case strings.Contains(msg, "no such column"):
		sqlstate = "42703"
	case strings.Contains(msg, "syntax error"):
		sqlstate = "42601"
	}
	return errorMessage(sqlstate, msg)
}
