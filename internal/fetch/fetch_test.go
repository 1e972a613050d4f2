package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadWritesFileAtomically(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.txt")
	d := NewDownloader(0)
	n, err := d.Download(context.Background(), srv.URL, dest, 0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestDownloadRejectsOverwriteWhenFileExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(dest, []byte("existing"), 0o644))

	d := NewDownloader(0)
	_, err := d.Download(context.Background(), srv.URL, dest, 0, false)
	assert.Error(t, err)
}

func TestDownloadRejectsOversizeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.txt")
	d := NewDownloader(0)
	_, err := d.Download(context.Background(), srv.URL, dest, 5, false)
	assert.Error(t, err)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadRejectsNon200Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.txt")
	d := NewDownloader(0)
	_, err := d.Download(context.Background(), srv.URL, dest, 0, false)
	assert.Error(t, err)
}

func TestFlattenRunsToolDirectlyOnSuccess(t *testing.T) {
	f := NewFlattener("mytool")
	var calledWith []string
	f.runCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		calledWith = args
		return exec.CommandContext(ctx, "true")
	}

	err := f.Flatten(context.Background(), "https://example.com/repo.git", "main", "/tmp/out.md", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, calledWith, "https://example.com/repo.git")
	assert.Contains(t, calledWith, "--branch")
}

func TestFlattenFallsBackToCloneOnAuthError(t *testing.T) {
	f := NewFlattener("mytool")
	attempts := 0
	var secondTarget string
	f.runCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		attempts++
		if attempts == 1 {
			return exec.CommandContext(ctx, "sh", "-c", "echo '403 Forbidden' >&2; exit 1")
		}
		secondTarget = args[0]
		return exec.CommandContext(ctx, "true")
	}
	cloned := false
	f.cloneRepo = func(ctx context.Context, url, branch, dir string) error {
		cloned = true
		return os.MkdirAll(dir, 0o755)
	}

	err := f.Flatten(context.Background(), "https://example.com/private.git", "", "/tmp/out.md", t.TempDir())
	require.NoError(t, err)
	assert.True(t, cloned)
	assert.Equal(t, 2, attempts)
	assert.NotEqual(t, "https://example.com/private.git", secondTarget)
}

func TestFlattenFallsBackToCloneWithBranch(t *testing.T) {
	f := NewFlattener("mytool")
	attempts := 0
	f.runCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		attempts++
		if attempts == 1 {
			return exec.CommandContext(ctx, "sh", "-c", "echo '404 Not Found' >&2; exit 1")
		}
		return exec.CommandContext(ctx, "true")
	}
	var clonedBranch string
	f.cloneRepo = func(ctx context.Context, url, branch, dir string) error {
		clonedBranch = branch
		return os.MkdirAll(dir, 0o755)
	}

	err := f.Flatten(context.Background(), "https://example.com/private.git", "develop", "/tmp/out.md", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "develop", clonedBranch, "Flatten must thread the requested branch into the clone fallback")
}

func TestFlattenDoesNotFallBackOnUnrelatedError(t *testing.T) {
	f := NewFlattener("mytool")
	attempts := 0
	f.runCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		attempts++
		return exec.CommandContext(ctx, "sh", "-c", "echo 'disk full' >&2; exit 1")
	}
	f.cloneRepo = func(ctx context.Context, url, branch, dir string) error {
		t.Fatal("clone should not be attempted for unrelated errors")
		return nil
	}

	err := f.Flatten(context.Background(), "https://example.com/repo.git", "", "/tmp/out.md", t.TempDir())
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRepoDirNameIsStableAndFilesystemSafe(t *testing.T) {
	a := RepoDirName("https://github.com/foo/bar.git")
	b := RepoDirName("https://github.com/foo/bar.git")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "bar-"))
}
