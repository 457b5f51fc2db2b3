package flydb

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The FlyDB server reports many results as free text inside the message
// field rather than as structured column/row data:
//
//	"INSERT 1"
//	"UPDATE 5"
//	"CREATE TABLE OK"
//	"1, Alice\n2, Bob\n(2 rows)"
//
// ParseTextResult recovers structure from these forms heuristically. The
// grammar is dictated by the server and must be tolerated as-is.

var (
	insertPattern   = regexp.MustCompile(`^INSERT\s+(\d+)$`)
	updatePattern   = regexp.MustCompile(`^UPDATE\s+(\d+)$`)
	deletePattern   = regexp.MustCompile(`^DELETE\s+(\d+)$`)
	createPattern   = regexp.MustCompile(`^CREATE\s+\w+\s+OK$`)
	dropPattern     = regexp.MustCompile(`^DROP\s+\w+\s+OK$`)
	alterPattern    = regexp.MustCompile(`^ALTER\s+\w+\s+OK$`)
	rowCountPattern = regexp.MustCompile(`\((\d+)\s+rows?\)`)
)

// TextResult is the structured form recovered from a textual result
// message.
type TextResult struct {
	// Statement is the classified statement verb (SELECT, INSERT, ...)
	// or UNKNOWN when the message matched no known form.
	Statement string
	// Columns holds generated column names when the message carried row
	// data; the text format has no headers, so names are column_0..N.
	Columns []string
	// Rows holds the parsed row values.
	Rows [][]any
	// RowCount is the affected or returned row count.
	RowCount int64
	// Message is the original text.
	Message string
}

// ParseTextResult parses a server result message into structured data.
func ParseTextResult(message string) TextResult {
	if m := insertPattern.FindStringSubmatch(message); m != nil {
		return TextResult{Statement: "INSERT", RowCount: mustCount(m[1]), Message: message}
	}
	if m := updatePattern.FindStringSubmatch(message); m != nil {
		return TextResult{Statement: "UPDATE", RowCount: mustCount(m[1]), Message: message}
	}
	if m := deletePattern.FindStringSubmatch(message); m != nil {
		return TextResult{Statement: "DELETE", RowCount: mustCount(m[1]), Message: message}
	}
	if createPattern.MatchString(message) {
		return TextResult{Statement: "CREATE", Message: message}
	}
	if dropPattern.MatchString(message) {
		return TextResult{Statement: "DROP", Message: message}
	}
	if alterPattern.MatchString(message) {
		return TextResult{Statement: "ALTER", Message: message}
	}
	return parseSelectText(message)
}

// parseSelectText handles the row-block form: one comma-separated line per
// row, optionally terminated by a "(N rows)" line.
func parseSelectText(message string) TextResult {
	lines := strings.Split(strings.TrimSpace(message), "\n")
	if len(lines) < 1 || (len(lines) == 1 && strings.TrimSpace(lines[0]) == "") {
		return TextResult{Statement: "UNKNOWN", Message: message}
	}

	var rowCount int64
	if m := rowCountPattern.FindStringSubmatch(lines[len(lines)-1]); m != nil {
		rowCount = mustCount(m[1])
		lines = lines[:len(lines)-1]
	} else if len(lines) < 2 {
		// A single line with no row-count marker is not a result block.
		return TextResult{Statement: "UNKNOWN", Message: message}
	}

	var rows [][]any
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, parseTextRow(line))
	}

	var columns []string
	if len(rows) > 0 {
		columns = make([]string, len(rows[0]))
		for i := range columns {
			columns[i] = fmt.Sprintf("column_%d", i)
		}
	}
	if rowCount == 0 {
		rowCount = int64(len(rows))
	}

	return TextResult{
		Statement: "SELECT",
		Columns:   columns,
		Rows:      rows,
		RowCount:  rowCount,
		Message:   message,
	}
}

// parseTextRow splits one comma-separated line, honoring double-quoted
// fields.
func parseTextRow(line string) []any {
	var values []any
	var current strings.Builder
	inQuotes := false

	for _, ch := range line {
		switch {
		case ch == '"':
			inQuotes = !inQuotes
		case ch == ',' && !inQuotes:
			values = append(values, parseTextValue(strings.TrimSpace(current.String())))
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	if current.Len() > 0 {
		values = append(values, parseTextValue(strings.TrimSpace(current.String())))
	}
	return values
}

// parseTextValue coerces a single textual value to NULL, bool, int64,
// float64 or string.
func parseTextValue(value string) any {
	switch strings.ToUpper(value) {
	case "NULL":
		return nil
	case "TRUE":
		return true
	case "FALSE":
		return false
	}

	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}

	if strings.Contains(value, ".") {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	} else if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}

	return value
}

func mustCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
