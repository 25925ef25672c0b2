package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/eliot/pkg/metrics"
)

func TestSymFilename(t *testing.T) {
	assert.Equal(t, "xul.sym", ModuleRef{DebugFilename: "xul.pdb"}.SymFilename())
	assert.Equal(t, "libc.so.sym", ModuleRef{DebugFilename: "libc.so"}.SymFilename())
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("MODULE mac x86_64 AAA0 xul.pdb\n"))
	}))
	defer srv.Close()

	d := New(Config{Sources: []string{srv.URL + "/{debug_filename}/{debug_id}/{sym_filename}"}}, &metrics.Recorder{})
	data, err := d.Fetch(context.Background(), ModuleRef{DebugFilename: "xul.pdb", DebugID: "AAA0"})
	require.NoError(t, err)
	assert.Contains(t, string(data), "MODULE")
}

func TestFetchNotFoundAdvancesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New(Config{Sources: []string{srv.URL + "/a/{sym_filename}", srv.URL + "/b/{sym_filename}"}}, &metrics.Recorder{})
	_, err := d.Fetch(context.Background(), ModuleRef{DebugFilename: "xul.pdb", DebugID: "AAA0"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchTransientExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(Config{
		Sources:    []string{srv.URL + "/{sym_filename}"},
		Retries:    2,
		MinBackoff: time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
	}, &metrics.Recorder{})

	_, err := d.Fetch(context.Background(), ModuleRef{DebugFilename: "xul.pdb", DebugID: "AAA0"})
	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestFetchSecondSourceSucceedsAfterFirstNotFound(t *testing.T) {
	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer missing.Close()
	found := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer found.Close()

	d := New(Config{Sources: []string{missing.URL + "/{sym_filename}", found.URL + "/{sym_filename}"}}, &metrics.Recorder{})
	data, err := d.Fetch(context.Background(), ModuleRef{DebugFilename: "xul.pdb", DebugID: "AAA0"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}
