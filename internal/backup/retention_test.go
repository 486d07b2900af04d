package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSession(t *testing.T, root, db, token string, artifacts ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, token), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, token, FileName(db, "t")), []byte("x"), 0644))
	for _, ext := range artifacts {
		require.NoError(t, os.WriteFile(filepath.Join(root, db+"_"+token+ext), []byte("x"), 0644))
	}
}

func TestRetention_KeepsNewest(t *testing.T) {
	root := t.TempDir()
	seedSession(t, root, "shop", "2024_01_01_00_00_00", ".tar.gz", ManifestExtension)
	seedSession(t, root, "shop", "2024_01_02_00_00_00", ".tar.zst.enc")
	seedSession(t, root, "shop", "2024_01_03_00_00_00", ".tar.gz", ManifestExtension)
	seedSession(t, root, "shop", "2024_01_03_00_00_00_2", ManifestExtension)

	pruned, err := NewRetention(nil).Prune(root, "shop", 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024_01_01_00_00_00", "2024_01_02_00_00_00"}, pruned)
	assert.NoDirExists(t, filepath.Join(root, "2024_01_01_00_00_00"))
	assert.NoFileExists(t, filepath.Join(root, "shop_2024_01_01_00_00_00.tar.gz"))
	assert.NoFileExists(t, filepath.Join(root, "shop_2024_01_01_00_00_00"+ManifestExtension))
	assert.NoFileExists(t, filepath.Join(root, "shop_2024_01_02_00_00_00.tar.zst.enc"))
	assert.DirExists(t, filepath.Join(root, "2024_01_03_00_00_00"))
	assert.DirExists(t, filepath.Join(root, "2024_01_03_00_00_00_2"))
}

func TestRetention_IgnoresOtherDatabases(t *testing.T) {
	root := t.TempDir()
	seedSession(t, root, "shop", "2024_01_01_00_00_00", ".tar.gz")
	seedSession(t, root, "crm", "2024_01_02_00_00_00", ".tar.gz")
	seedSession(t, root, "shop", "2024_01_03_00_00_00", ".tar.gz")

	pruned, err := NewRetention(nil).Prune(root, "shop", 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024_01_01_00_00_00"}, pruned)
	assert.FileExists(t, filepath.Join(root, "crm_2024_01_02_00_00_00.tar.gz"))
	assert.DirExists(t, filepath.Join(root, "2024_01_02_00_00_00"))
}

func TestRetention_ProtectedToken(t *testing.T) {
	root := t.TempDir()
	seedSession(t, root, "shop", "2024_01_01_00_00_00", ".tar.gz")
	seedSession(t, root, "shop", "2024_01_02_00_00_00", ".tar.gz")

	pruned, err := NewRetention(nil).Prune(root, "shop", 1, "2024_01_01_00_00_00")
	require.NoError(t, err)

	assert.Empty(t, pruned)
	assert.DirExists(t, filepath.Join(root, "2024_01_01_00_00_00"))
}

func TestRetention_Disabled(t *testing.T) {
	root := t.TempDir()
	seedSession(t, root, "shop", "2024_01_01_00_00_00", ".tar.gz")

	pruned, err := NewRetention(nil).Prune(root, "shop", 0)
	require.NoError(t, err)
	assert.Empty(t, pruned)
	assert.DirExists(t, filepath.Join(root, "2024_01_01_00_00_00"))
}

func TestRetention_MissingRoot(t *testing.T) {
	pruned, err := NewRetention(nil).Prune(filepath.Join(t.TempDir(), "absent"), "shop", 3)
	require.NoError(t, err)
	assert.Empty(t, pruned)
}

func TestStripArtifactExtension(t *testing.T) {
	assert.Equal(t, "2024_01_01_00_00_00", stripArtifactExtension("2024_01_01_00_00_00.tar.gz"))
	assert.Equal(t, "2024_01_01_00_00_00", stripArtifactExtension("2024_01_01_00_00_00.tar.lz4.enc"))
	assert.Equal(t, "2024_01_01_00_00_00", stripArtifactExtension("2024_01_01_00_00_00.tar"))
	assert.Equal(t, "2024_01_01_00_00_00", stripArtifactExtension("2024_01_01_00_00_00"+ManifestExtension))
	assert.Equal(t, "2024_01_01_00_00_00_3", stripArtifactExtension("2024_01_01_00_00_00_3.tar.zst"))
	assert.Empty(t, stripArtifactExtension("orders.txt"))
}
