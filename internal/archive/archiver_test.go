package archive

import (
	"archive/tar"
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"db-backup-utility/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSession(t *testing.T, root, token string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, token)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func readArchive(t *testing.T, path string, c CompressionType) ([]string, map[string]string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := NewReader(f, c)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	contents := map[string]string{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
		if hdr.Typeflag == tar.TypeReg {
			b, err := io.ReadAll(tr)
			require.NoError(t, err)
			contents[hdr.Name] = string(b)
		}
	}
	return names, contents
}

func TestArchive_AllCodecs(t *testing.T) {
	files := map[string]string{
		"shop_users.txt":  "CREATE TABLE `users` (`id` int)\n\nINSERT INTO `users` (`id`) VALUES ('1');\n",
		"shop_orders.txt": "CREATE TABLE `orders` (`id` int)\n\n\n",
	}

	for _, c := range []CompressionType{CompressionGzip, CompressionZstd, CompressionLZ4, CompressionNone} {
		t.Run(string(c), func(t *testing.T) {
			root := t.TempDir()
			dir := writeSession(t, root, "2024_01_02_03_04_05", files)

			result, err := NewArchiver(c, 0, nil).Archive(context.Background(), dir, filepath.Join(root, "shop_2024_01_02_03_04_05"))
			require.NoError(t, err)

			assert.Equal(t, filepath.Join(root, "shop_2024_01_02_03_04_05"+c.Extension()), result.Path)
			assert.Equal(t, c, result.Compression)
			assert.Equal(t, 3, result.Entries)
			assert.Positive(t, result.Size)

			names, contents := readArchive(t, result.Path, c)
			assert.Equal(t, []string{
				"2024_01_02_03_04_05/",
				"2024_01_02_03_04_05/shop_orders.txt",
				"2024_01_02_03_04_05/shop_users.txt",
			}, names)
			assert.Equal(t, files["shop_users.txt"], contents["2024_01_02_03_04_05/shop_users.txt"])
			assert.Equal(t, files["shop_orders.txt"], contents["2024_01_02_03_04_05/shop_orders.txt"])
		})
	}
}

func TestArchive_EmptySession(t *testing.T) {
	root := t.TempDir()
	dir := writeSession(t, root, "tok", nil)

	result, err := NewArchiver(CompressionGzip, 0, nil).Archive(context.Background(), dir, filepath.Join(root, "shop_tok"))
	require.NoError(t, err)

	names, _ := readArchive(t, result.Path, CompressionGzip)
	assert.Equal(t, []string{"tok/"}, names)
}

func TestArchive_MissingDirectory(t *testing.T) {
	root := t.TempDir()

	_, err := NewArchiver(CompressionGzip, 0, nil).Archive(context.Background(), filepath.Join(root, "nope"), filepath.Join(root, "shop_nope"))

	var archiveErr *errors.ArchiveError
	require.True(t, stderrors.As(err, &archiveErr))
	assert.Equal(t, filepath.Join(root, "shop_nope.tar.gz"), archiveErr.Path)
	assert.NoFileExists(t, archiveErr.Path)
}

func TestArchive_CanceledLeavesNoArtifact(t *testing.T) {
	root := t.TempDir()
	dir := writeSession(t, root, "tok", map[string]string{"shop_a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewArchiver(CompressionGzip, 0, nil).Archive(ctx, dir, filepath.Join(root, "shop_tok"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, "tok", e.Name(), "unexpected leftover %s", e.Name())
	}
}

type closeRecorder struct {
	io.WriteCloser
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return c.WriteCloser.Close()
}

func TestArchive_CanceledClosesCodec(t *testing.T) {
	root := t.TempDir()
	dir := writeSession(t, root, "tok", map[string]string{"shop_a.txt": "a"})

	var opened *closeRecorder
	t.Cleanup(func() { openCodec = newWriter })
	openCodec = func(w io.Writer, c CompressionType, level int) (io.WriteCloser, error) {
		wc, err := newWriter(w, c, level)
		if err != nil {
			return nil, err
		}
		opened = &closeRecorder{WriteCloser: wc}
		return opened, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewArchiver(CompressionZstd, 0, nil).Archive(ctx, dir, filepath.Join(root, "shop_tok"))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, opened)
	assert.True(t, opened.closed, "zstd encoder must be released on failure")
}

func TestParseCompression(t *testing.T) {
	tests := map[string]CompressionType{
		"":     CompressionGzip,
		"gzip": CompressionGzip,
		"GZ":   CompressionGzip,
		"zstd": CompressionZstd,
		"lz4":  CompressionLZ4,
		"none": CompressionNone,
	}
	for in, want := range tests {
		got, err := ParseCompression(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCompression("brotli")
	assert.Error(t, err)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".tar.gz", CompressionGzip.Extension())
	assert.Equal(t, ".tar.zst", CompressionZstd.Extension())
	assert.Equal(t, ".tar.lz4", CompressionLZ4.Extension())
	assert.Equal(t, ".tar", CompressionNone.Extension())
}
