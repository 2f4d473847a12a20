package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSUploader_CopiesNestedTree(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "index.html"), []byte("<html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "assets", "app.js"), []byte("js"), 0o644))

	root := t.TempDir()
	u := NewFSUploader(root, "http://localhost:8080/artifacts/")

	url, err := u.Upload(context.Background(), src, "runs/run-1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/artifacts/runs/run-1/", url)

	got, err := os.ReadFile(filepath.Join(root, "runs", "run-1", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>", string(got))
	got, err = os.ReadFile(filepath.Join(root, "runs", "run-1", "assets", "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "js", string(got))
}

func TestFSUploader_ReuploadReplaces(t *testing.T) {
	root := t.TempDir()
	u := NewFSUploader(root, "http://localhost/artifacts")

	src1 := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src1, "stale.txt"), []byte("old"), 0o644))
	_, err := u.Upload(context.Background(), src1, "runs/run-2")
	require.NoError(t, err)

	src2 := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src2, "fresh.txt"), []byte("new"), 0o644))
	_, err = u.Upload(context.Background(), src2, "runs/run-2")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "runs", "run-2", "stale.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "runs", "run-2", "fresh.txt"))
	assert.NoError(t, err)
}
