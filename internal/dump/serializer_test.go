package dump

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseValues reads the VALUES tuple of one INSERT statement back into Go
// values, undoing the literal encoding. NULL becomes nil and hex literals
// become []byte.
func parseValues(t *testing.T, stmt string) []any {
	t.Helper()

	start := strings.Index(stmt, "VALUES (")
	require.NotEqual(t, -1, start, "no VALUES clause in %q", stmt)
	require.True(t, strings.HasSuffix(stmt, ");"), "statement must end with ');': %q", stmt)
	body := stmt[start+len("VALUES (") : len(stmt)-2]

	var values []any
	for i := 0; i < len(body); {
		switch {
		case strings.HasPrefix(body[i:], "NULL"):
			values = append(values, nil)
			i += 4
		case strings.HasPrefix(body[i:], "0x"):
			j := i + 2
			for j < len(body) && body[j] != ',' {
				j++
			}
			raw := body[i+2 : j]
			b := make([]byte, len(raw)/2)
			for k := range b {
				var v byte
				for _, c := range raw[2*k : 2*k+2] {
					v <<= 4
					switch {
					case c >= '0' && c <= '9':
						v |= byte(c - '0')
					default:
						v |= byte(c-'a') + 10
					}
				}
				b[k] = v
			}
			values = append(values, b)
			i = j
		case body[i] == '\'':
			var sb strings.Builder
			j := i + 1
			for ; body[j] != '\''; j++ {
				if body[j] == '\\' {
					j++
					switch body[j] {
					case '0':
						sb.WriteByte(0)
					case 'n':
						sb.WriteByte('\n')
					case 'r':
						sb.WriteByte('\r')
					case 'Z':
						sb.WriteByte(0x1a)
					default:
						sb.WriteByte(body[j])
					}
					continue
				}
				sb.WriteByte(body[j])
			}
			values = append(values, sb.String())
			i = j + 1
		default:
			t.Fatalf("unexpected token at %d in %q", i, body)
		}
		if strings.HasPrefix(body[i:], ", ") {
			i += 2
		}
	}
	return values
}

func TestSerializeRows_Format(t *testing.T) {
	stmts := SerializeRows("users", []string{"id", "name"}, [][]any{
		{[]byte("1"), []byte("Ann")},
		{[]byte("2"), nil},
	})

	assert.Equal(t, []string{
		"INSERT INTO `users` (`id`, `name`) VALUES ('1', 'Ann');",
		"INSERT INTO `users` (`id`, `name`) VALUES ('2', NULL);",
	}, stmts)
}

func TestSerializeRows_NoRows(t *testing.T) {
	assert.Empty(t, SerializeRows("orders", []string{"id"}, nil))
}

func TestSerializeRows_NullIsNeverQuoted(t *testing.T) {
	stmts := SerializeRows("t", []string{"a", "b", "c"}, [][]any{{nil, nil, []byte("")}})

	require.Len(t, stmts, 1)
	assert.Equal(t, "INSERT INTO `t` (`a`, `b`, `c`) VALUES (NULL, NULL, '');", stmts[0])
	assert.NotContains(t, stmts[0], "'NULL'")
	assert.NotContains(t, stmts[0], "None")
}

func TestSerializeRows_QuoteEscaping(t *testing.T) {
	stmts := SerializeRows("people", []string{"name"}, [][]any{{[]byte("O'Brien")}})

	assert.Equal(t, "INSERT INTO `people` (`name`) VALUES ('O\\'Brien');", stmts[0])
}

func TestSerializeRows_QuotesIdentifiers(t *testing.T) {
	stmts := SerializeRows("order items", []string{"key", "odd`col"}, [][]any{{[]byte("a"), []byte("b")}})

	assert.Equal(t, "INSERT INTO `order items` (`key`, `odd``col`) VALUES ('a', 'b');", stmts[0])
}

func TestSerializeRows_RoundTrip(t *testing.T) {
	binary := []byte{0x00, 0xff, 0xfe, 0x10}
	rows := [][]any{
		{[]byte("1"), []byte("plain"), nil},
		{[]byte("2"), []byte("O'Brien said \"hi\""), []byte("C:\\temp\\file")},
		{[]byte("3"), []byte("line1\nline2\r\n"), []byte("nul\x00sub\x1aend")},
		{[]byte("4"), []byte("naïve ünïcödé"), binary},
	}

	stmts := SerializeRows("docs", []string{"id", "body", "extra"}, rows)
	require.Len(t, stmts, len(rows))

	for i, stmt := range stmts {
		got := parseValues(t, stmt)
		require.Len(t, got, len(rows[i]), "statement %d", i)
		for j, want := range rows[i] {
			switch w := want.(type) {
			case nil:
				assert.Nil(t, got[j], "row %d col %d", i, j)
			case []byte:
				if s, ok := got[j].(string); ok {
					assert.Equal(t, string(w), s, "row %d col %d", i, j)
				} else {
					assert.Equal(t, w, got[j], "row %d col %d", i, j)
				}
			}
		}
	}
}

func TestSerializeRows_PreservesRowOrder(t *testing.T) {
	var rows [][]any
	for _, v := range []string{"c", "a", "b"} {
		rows = append(rows, []any{[]byte(v)})
	}

	stmts := SerializeRows("t", []string{"v"}, rows)
	assert.Contains(t, stmts[0], "'c'")
	assert.Contains(t, stmts[1], "'a'")
	assert.Contains(t, stmts[2], "'b'")
}

func TestLiteral_GoTypes(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, "NULL"},
		{"string", "x", "'x'"},
		{"int64", int64(-42), "'-42'"},
		{"int", 7, "'7'"},
		{"uint64", uint64(18446744073709551615), "'18446744073709551615'"},
		{"float64", 3.5, "'3.5'"},
		{"bool true", true, "'1'"},
		{"bool false", false, "'0'"},
		{"time", ts, "'2024-03-15 10:30:00'"},
		{"time with micros", ts.Add(1500 * time.Microsecond), "'2024-03-15 10:30:00.0015'"},
		{"binary", []byte{0xde, 0xad, 0xbe, 0xef}, "0xdeadbeef"},
		{"backslash", `a\b`, `'a\\b'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Literal(tt.value))
		})
	}
}

func TestScript(t *testing.T) {
	schema := "CREATE TABLE `users` (`id` int)"
	inserts := []string{
		"INSERT INTO `users` (`id`) VALUES ('1');",
		"INSERT INTO `users` (`id`) VALUES ('2');",
	}

	assert.Equal(t,
		schema+"\n\n"+inserts[0]+"\n"+inserts[1]+"\n",
		Script(schema, inserts))
	assert.Equal(t, schema+"\n\n\n", Script(schema, nil))
}
