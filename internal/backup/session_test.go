package backup

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession_CreatesRootAndDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "bkp")
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	s, err := NewSession(root, "shop", "run-1", started)
	require.NoError(t, err)

	assert.Equal(t, "2024_01_02_03_04_05", s.Token)
	assert.Equal(t, filepath.Join(root, "2024_01_02_03_04_05"), s.Dir)
	assert.DirExists(t, s.Dir)
	assert.Equal(t, filepath.Join(root, "shop_2024_01_02_03_04_05"), s.ArchiveBase())
}

func TestNewSession_SameSecondGetsDistinctDirectories(t *testing.T) {
	root := t.TempDir()
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	var wg sync.WaitGroup
	tokens := make([]string, 5)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := NewSession(root, "shop", "run", started)
			if assert.NoError(t, err) {
				tokens[i] = s.Token
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, tok := range tokens {
		assert.False(t, seen[tok], "token %s handed out twice", tok)
		seen[tok] = true
		assert.True(t, IsToken(tok))
	}
	assert.True(t, seen["2024_01_02_03_04_05"])
	assert.True(t, seen["2024_01_02_03_04_05_5"])
}

func TestNewSession_RootIsAFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "bkp")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0644))

	_, err := NewSession(root, "shop", "run", time.Now())
	assert.Error(t, err)
}

func TestSession_Seal(t *testing.T) {
	s := newDetachedSession("shop", "run", time.Now())
	assert.False(t, s.Sealed())
	s.Seal()
	assert.True(t, s.Sealed())
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "shop_orders.txt", FileName("shop", "orders"))
	assert.Equal(t, "shop_a_b_c.txt", FileName("shop", `a/b\c`))
}

func TestIsToken(t *testing.T) {
	assert.True(t, IsToken("2024_03_15_10_30_00"))
	assert.True(t, IsToken("2024_03_15_10_30_00_12"))
	assert.False(t, IsToken("2024-03-15"))
	assert.False(t, IsToken("history.db"))
}

func TestCompareTokens(t *testing.T) {
	assert.Equal(t, -1, compareTokens("2024_03_15_10_30_00", "2024_03_15_10_30_01"))
	assert.Equal(t, -1, compareTokens("2024_03_15_10_30_00", "2024_03_15_10_30_00_2"))
	assert.Equal(t, -1, compareTokens("2024_03_15_10_30_00_2", "2024_03_15_10_30_00_10"))
	assert.Equal(t, 0, compareTokens("2024_03_15_10_30_00", "2024_03_15_10_30_00"))
	assert.Equal(t, 1, compareTokens("2024_03_16_00_00_00", "2024_03_15_23_59_59_3"))
}
