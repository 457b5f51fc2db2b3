package flydb

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Parameter substitution. Queries use the "pyformat" placeholder style: %s
// for positional parameters, %(name)s for named parameters. One execute
// call uses exactly one style. Substitution happens client-side, before any
// network I/O, with each value rendered as an escaped SQL literal.

var namedPlaceholder = regexp.MustCompile(`%\(([^)]+)\)s`)

// bindPositional substitutes each %s placeholder left-to-right with the
// corresponding escaped literal. The placeholder and parameter counts must
// match exactly.
func bindPositional(query string, args []any) (string, error) {
	parts := strings.Split(query, "%s")
	placeholders := len(parts) - 1
	if placeholders != len(args) {
		return "", NewProgrammingError(
			fmt.Sprintf("query requires %d parameters, but %d provided", placeholders, len(args)))
	}

	var b strings.Builder
	for i, part := range parts[:placeholders] {
		b.WriteString(part)
		literal, err := quoteLiteral(args[i])
		if err != nil {
			return "", err
		}
		b.WriteString(literal)
	}
	b.WriteString(parts[placeholders])
	return b.String(), nil
}

// bindNamed substitutes each %(name)s placeholder by looking name up in
// args. A placeholder with no matching key is caller misuse.
func bindNamed(query string, args map[string]any) (string, error) {
	var bindErr error
	bound := namedPlaceholder.ReplaceAllStringFunc(query, func(placeholder string) string {
		if bindErr != nil {
			return placeholder
		}
		name := namedPlaceholder.FindStringSubmatch(placeholder)[1]
		value, ok := args[name]
		if !ok {
			bindErr = NewProgrammingError(fmt.Sprintf("no value supplied for parameter %q", name))
			return placeholder
		}
		literal, err := quoteLiteral(value)
		if err != nil {
			bindErr = err
			return placeholder
		}
		return literal
	})
	if bindErr != nil {
		return "", bindErr
	}
	return bound, nil
}

// quoteLiteral renders one value as a SQL literal: NULL for nil, unquoted
// TRUE/FALSE for booleans, bare decimal text for numbers, and a
// single-quoted string with embedded quotes doubled for strings. Any other
// type cannot be serialized.
func quoteLiteral(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	default:
		return "", NewDataError(fmt.Sprintf("cannot serialize value of type %T as a SQL literal", value))
	}
}
