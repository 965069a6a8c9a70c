package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalPutWritesSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := NewLocal(dir)
	require.NoError(t, err)

	uri, err := a.Put(context.Background(), "pages/foo/1-page01.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	require.Contains(t, uri, "file://")

	data, err := os.ReadFile(filepath.Join(dir, "pages", "foo", "1-page01.html"))
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(data))
}

func TestLocalPutRejectsEscapingPath(t *testing.T) {
	t.Parallel()

	a, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = a.Put(context.Background(), "../outside.html", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestMemoryPut(t *testing.T) {
	t.Parallel()

	a := NewMemory()
	uri, err := a.Put(context.Background(), "p/1.html", "text/html", []byte("snap"))
	require.NoError(t, err)
	require.Equal(t, "mem://p/1.html", uri)

	data, ok := a.Get("p/1.html")
	require.True(t, ok)
	require.Equal(t, "snap", string(data))
	require.Equal(t, 1, a.Len())
}
