package display

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetThemeByName(t *testing.T) {
	assert.Equal(t, DarkColorTheme(), GetThemeByName("dark"))
	assert.Equal(t, LightColorTheme(), GetThemeByName("light"))
	assert.Equal(t, PlainTextTheme(), GetThemeByName("plain"))
	assert.Equal(t, DarkColorTheme(), GetThemeByName("unknown"))
}

func TestColorSystem_DisabledForBuffers(t *testing.T) {
	cs := NewColorSystem(&bytes.Buffer{}, DarkColorTheme())

	assert.False(t, cs.Enabled())
	assert.Equal(t, "ok", cs.Colorize("ok", ColorGreen))
	assert.Equal(t, "3 rows", cs.Sprintf(ColorRed, "%d rows", 3))
}

func TestColorSystem_Enabled(t *testing.T) {
	cs := newColorSystem(DarkColorTheme(), true)

	colored := cs.Colorize("ok", ColorGreen)
	assert.NotEqual(t, "ok", colored)
	assert.Contains(t, colored, "ok")
	assert.Contains(t, colored, "\x1b[")

	assert.Equal(t, "ok", cs.Colorize("ok", ColorReset), "unmapped colors leave text alone")
}
