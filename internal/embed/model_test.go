package embed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureModelDownloadsBothFiles(t *testing.T) {
	modelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("onnx-bytes"))
	}))
	defer modelSrv.Close()
	tokSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tokenizer":"bge"}`))
	}))
	defer tokSrv.Close()

	dir := t.TempDir()
	m := &ModelManager{modelsDir: dir, modelURL: modelSrv.URL, tokURL: tokSrv.URL}

	require.False(t, m.ModelExists())
	require.NoError(t, m.EnsureModel(context.Background()))
	require.True(t, m.ModelExists())

	data, err := os.ReadFile(m.ModelPath())
	require.NoError(t, err)
	assert.Equal(t, "onnx-bytes", string(data))

	tok, err := os.ReadFile(m.TokenizerPath())
	require.NoError(t, err)
	assert.Equal(t, `{"tokenizer":"bge"}`, string(tok))
}

func TestEnsureModelSkipsDownloadWhenFilesAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("existing"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte("existing"), 0o644))

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("should-not-be-fetched"))
	}))
	defer srv.Close()

	m := &ModelManager{modelsDir: dir, modelURL: srv.URL, tokURL: srv.URL}
	require.NoError(t, m.EnsureModel(context.Background()))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits), "EnsureModel must not re-download files that already exist")
}

func TestEnsureModelRetriesTransientFailure(t *testing.T) {
	var attempts int32
	modelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("onnx-bytes"))
	}))
	defer modelSrv.Close()
	tokSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tok"))
	}))
	defer tokSrv.Close()

	dir := t.TempDir()
	m := &ModelManager{modelsDir: dir, modelURL: modelSrv.URL, tokURL: tokSrv.URL}

	require.NoError(t, m.EnsureModel(context.Background()))
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&attempts)), 2, "first transient failure should have been retried")
	assert.True(t, m.ModelExists())
}

func TestDeleteModelRemovesBothFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte("x"), 0o644))

	m := NewModelManager(dir)
	require.NoError(t, m.DeleteModel())
	assert.False(t, m.ModelExists())

	// Deleting again when absent must not error.
	require.NoError(t, m.DeleteModel())
}
