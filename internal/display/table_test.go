package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable_Render(t *testing.T) {
	tbl := NewTable(nil, "NAME", "ROWS")
	tbl.SetColumnAlignment(1, AlignRight)
	tbl.AddRow("users", "1,024")
	tbl.AddRow("orders", "7")

	want := strings.Join([]string{
		"+--------+-------+",
		"| NAME   |  ROWS |",
		"+--------+-------+",
		"| users  | 1,024 |",
		"| orders |     7 |",
		"+--------+-------+",
	}, "\n") + "\n"
	assert.Equal(t, want, tbl.Render())
}

func TestTable_NoBorder(t *testing.T) {
	tbl := NewTable(nil, "A", "B")
	tbl.SetBorder(NoBorderStyle)
	tbl.AddRow("x", "yy")

	assert.Equal(t, " A  B\n x  yy\n", tbl.Render())
}

func TestTable_TruncatesLongCells(t *testing.T) {
	tbl := NewTable(nil, "ERROR")
	tbl.AddRow(strings.Repeat("x", 100))

	out := tbl.Render()
	assert.Contains(t, out, strings.Repeat("x", 57)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 58))
}

func TestTable_Empty(t *testing.T) {
	assert.Empty(t, NewTable(nil).Render())
}

func TestTable_RenderTo(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(nil, "A")
	tbl.AddRow("1")
	tbl.RenderTo(&buf)
	assert.Equal(t, tbl.Render(), buf.String())
}

func TestColorSystem(t *testing.T) {
	var buf bytes.Buffer
	cs := NewColorSystem(&buf, DarkColorTheme())
	assert.False(t, cs.Enabled(), "a buffer is not a terminal")
	assert.Equal(t, "ok", cs.Colorize("ok", ColorGreen))

	forced := newColorSystem(DarkColorTheme(), true)
	colored := forced.Sprintf(ColorGreen, "%d rows", 3)
	assert.NotEqual(t, "3 rows", colored)
	assert.Contains(t, colored, "3 rows")
	assert.Equal(t, "plain", forced.Colorize("plain", ColorReset))
}

func TestGetThemeByName_Table(t *testing.T) {
	assert.Equal(t, LightColorTheme(), GetThemeByName("light"))
	assert.Equal(t, PlainTextTheme(), GetThemeByName("none"))
	assert.Equal(t, DarkColorTheme(), GetThemeByName("unknown"))
}
