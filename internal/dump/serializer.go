// Package dump turns extracted table contents into replayable SQL text.
package dump

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"db-backup-utility/internal/database"
)

const timeFormat = "2006-01-02 15:04:05.999999"

// SerializeRows renders one INSERT statement per row, in row order.
func SerializeRows(table string, columns []string, rows [][]any) []string {
	if len(rows) == 0 {
		return nil
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = database.QuoteIdentifier(c)
	}
	prefix := "INSERT INTO " + database.QuoteIdentifier(table) + " (" + strings.Join(quoted, ", ") + ") VALUES ("

	statements := make([]string, 0, len(rows))
	var sb strings.Builder
	for _, row := range rows {
		sb.Reset()
		sb.WriteString(prefix)
		for i, v := range row {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(Literal(v))
		}
		sb.WriteString(");")
		statements = append(statements, sb.String())
	}
	return statements
}

// Script joins a creation statement and its inserts into the text stored for one table.
func Script(schema string, inserts []string) string {
	return schema + "\n\n" + strings.Join(inserts, "\n") + "\n"
}

// Literal renders a single value as a MySQL literal. nil is NULL; binary data
// that is not valid UTF-8 becomes a hex literal; everything else is quoted.
func Literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		if !utf8.Valid(val) {
			return "0x" + hex.EncodeToString(val)
		}
		return quote(string(val))
	case string:
		return quote(val)
	case int64:
		return quote(strconv.FormatInt(val, 10))
	case int:
		return quote(strconv.Itoa(val))
	case int32:
		return quote(strconv.FormatInt(int64(val), 10))
	case uint64:
		return quote(strconv.FormatUint(val, 10))
	case float64:
		return quote(strconv.FormatFloat(val, 'g', -1, 64))
	case float32:
		return quote(strconv.FormatFloat(float64(val), 'g', -1, 32))
	case bool:
		if val {
			return "'1'"
		}
		return "'0'"
	case time.Time:
		return quote(val.Format(timeFormat))
	default:
		return quote(fmt.Sprint(val))
	}
}

// quote wraps s in single quotes using the backslash escapes MySQL accepts in
// string literals.
func quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
			sb.WriteString(`\0`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case 0x1a:
			sb.WriteString(`\Z`)
		case '\'':
			sb.WriteString(`\'`)
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}
