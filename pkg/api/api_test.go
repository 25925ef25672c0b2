package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/eliot/pkg/diskcache"
	"github.com/mozilla-services/eliot/pkg/downloader"
	"github.com/mozilla-services/eliot/pkg/metrics"
	"github.com/mozilla-services/eliot/pkg/symbolicator"
)

const sampleSym = `MODULE mac x86_64 AAAA0 xul.pdb
FILE 7 src/foo.cpp
FUNC 1200 100 0 foo
1200 8 40 7
1234 8 42 7
`

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	symSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleSym))
	}))
	t.Cleanup(symSrv.Close)

	cache, err := diskcache.Open(diskcache.Config{Root: t.TempDir()}, &metrics.Recorder{})
	require.NoError(t, err)

	dl := downloader.New(downloader.Config{Sources: []string{symSrv.URL + "/{sym_filename}"}}, &metrics.Recorder{})
	sym := symbolicator.New(symbolicator.Config{}, cache, dl, &metrics.Recorder{}, 1)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(Config{}, sym, &metrics.Recorder{}, logger)
}

func TestHandleV4Success(t *testing.T) {
	h := newTestHandler(t)

	body := `{"memoryMap":[["xul.pdb","AAAA0"]],"stacks":[[[0, 4660]]]}`
	req := httptest.NewRequest(http.MethodPost, "/symbolicate/v4", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.handleV4(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp v4Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.SymbolicatedStacks, 1)
	assert.Equal(t, "foo (in xul.pdb)", resp.SymbolicatedStacks[0][0])
	require.Len(t, resp.KnownModules, 1)
	require.NotNil(t, resp.KnownModules[0])
	assert.True(t, *resp.KnownModules[0])
}

func TestHandleV4InvalidModule(t *testing.T) {
	h := newTestHandler(t)

	body := `{"memoryMap":[["xul/pdb","AAAA0"]],"stacks":[[[0, 4660]]]}`
	req := httptest.NewRequest(http.MethodPost, "/symbolicate/v4", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.handleV4(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_modules", resp.Error)
}

func TestHandleV5BareJob(t *testing.T) {
	h := newTestHandler(t)

	body := `{"memoryMap":[["xul.pdb","AAAA0"]],"stacks":[[[0, 4660]]]}`
	req := httptest.NewRequest(http.MethodPost, "/symbolicate/v5", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.handleV5(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp v5Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "foo", resp.Results[0].Stacks[0][0].Function)
}

func TestHandleV5TooManyJobs(t *testing.T) {
	h := newTestHandler(t)
	h.maxJobs = 1

	body := `{"jobs":[
		{"memoryMap":[["xul.pdb","AAAA0"]],"stacks":[[[0,1]]]},
		{"memoryMap":[["xul.pdb","AAAA0"]],"stacks":[[[0,1]]]}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/symbolicate/v5", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.handleV5(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "too_many_jobs", resp.Error)
}

func TestHandleV5DebugHeader(t *testing.T) {
	h := newTestHandler(t)

	body := `{"memoryMap":[["xul.pdb","AAAA0"]],"stacks":[[[0, 4660]]]}`
	req := httptest.NewRequest(http.MethodPost, "/symbolicate/v5", bytes.NewBufferString(body))
	req.Header.Set("Debug", "true")
	w := httptest.NewRecorder()

	h.handleV5(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp v5Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Debug)
	assert.Equal(t, 1, resp.Debug.JobsCount)
}
