package symbolicator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/eliot/pkg/diskcache"
	"github.com/mozilla-services/eliot/pkg/downloader"
	"github.com/mozilla-services/eliot/pkg/metrics"
)

const sampleSym = `MODULE mac x86_64 AAAA0 xul.pdb
FILE 7 src/foo.cpp
FUNC 1200 100 0 foo
1200 8 40 7
1234 8 42 7
PUBLIC 2000 0 baz
`

func newTestSymbolicator(t *testing.T, handler http.HandlerFunc) *Symbolicator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cache, err := diskcache.Open(diskcache.Config{Root: t.TempDir()}, &metrics.Recorder{})
	require.NoError(t, err)

	dl := downloader.New(downloader.Config{Sources: []string{srv.URL + "/{sym_filename}"}}, &metrics.Recorder{})

	return New(Config{MaxConcurrentModules: 4}, cache, dl, &metrics.Recorder{}, 1)
}

func TestSymbolicateResolvesFrame(t *testing.T) {
	s := newTestSymbolicator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleSym))
	})

	job := Job{
		MemoryMap: []ModuleRef{{DebugFilename: "xul.pdb", DebugID: "AAAA0"}},
		Stacks:    [][]FrameRequest{{{ModuleIndex: 0, Offset: 0x1234}}},
	}

	results, err := s.Symbolicate(context.Background(), []Job{job}, "v5")
	require.NoError(t, err)
	require.Len(t, results, 1)

	frame := results[0].Stacks[0][0]
	assert.Equal(t, "foo", frame.Function)
	assert.True(t, frame.HasFunction)
	assert.EqualValues(t, 0x34, frame.FunctionOffset)
	assert.Equal(t, "src/foo.cpp", frame.File)
	assert.EqualValues(t, 42, frame.Line)
	assert.True(t, results[0].FoundModules["xul.pdb/AAAA0"])
}

func TestSymbolicateUnresolvedWhenModuleNotFound(t *testing.T) {
	s := newTestSymbolicator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	job := Job{
		MemoryMap: []ModuleRef{{DebugFilename: "xul.pdb", DebugID: "AAAA0"}},
		Stacks:    [][]FrameRequest{{{ModuleIndex: 0, Offset: 0x1234}}},
	}

	results, err := s.Symbolicate(context.Background(), []Job{job}, "v5")
	require.NoError(t, err)

	frame := results[0].Stacks[0][0]
	assert.False(t, frame.HasFunction)
	assert.Equal(t, "xul.pdb", frame.Module)
	assert.False(t, results[0].FoundModules["xul.pdb/AAAA0"])
}

func TestSymbolicateUnattributableFrame(t *testing.T) {
	s := newTestSymbolicator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleSym))
	})

	job := Job{
		MemoryMap: []ModuleRef{{DebugFilename: "xul.pdb", DebugID: "AAAA0"}},
		Stacks:    [][]FrameRequest{{{ModuleIndex: -1, Offset: 0x1234}}},
	}

	results, err := s.Symbolicate(context.Background(), []Job{job}, "v4")
	require.NoError(t, err)

	frame := results[0].Stacks[0][0]
	assert.Equal(t, "<unknown>", frame.Module)
	assert.False(t, frame.HasFunction)
}

func TestSymbolicateUnreferencedModuleNeverLookedUp(t *testing.T) {
	var fetches int
	s := newTestSymbolicator(t, func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Write([]byte(sampleSym))
	})

	job := Job{
		MemoryMap: []ModuleRef{
			{DebugFilename: "xul.pdb", DebugID: "AAAA0"},
			{DebugFilename: "never-referenced.pdb", DebugID: "BBBB0"},
		},
		Stacks: [][]FrameRequest{
			{{ModuleIndex: 0, Offset: 0x1234}},
		},
	}

	results, err := s.Symbolicate(context.Background(), []Job{job}, "v5")
	require.NoError(t, err)
	assert.Equal(t, 1, fetches, "only the referenced module should be fetched")

	_, ok := results[0].FoundModules["never-referenced.pdb/BBBB0"]
	assert.False(t, ok, "a memory-map entry no frame references must be absent from found_modules, not true/false")

	found, ok := results[0].FoundModules["xul.pdb/AAAA0"]
	require.True(t, ok)
	assert.True(t, found)
}

func TestSymbolicateDedupesModuleReferences(t *testing.T) {
	var fetches int
	s := newTestSymbolicator(t, func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Write([]byte(sampleSym))
	})

	job := Job{
		MemoryMap: []ModuleRef{
			{DebugFilename: "xul.pdb", DebugID: "AAAA0"},
			{DebugFilename: "xul.pdb", DebugID: "AAAA0"},
		},
		Stacks: [][]FrameRequest{
			{{ModuleIndex: 0, Offset: 0x1200}},
			{{ModuleIndex: 1, Offset: 0x1234}},
		},
	}

	results, err := s.Symbolicate(context.Background(), []Job{job}, "v5")
	require.NoError(t, err)
	assert.Equal(t, 1, fetches, "both memory map entries refer to the same module; only one fetch should occur")
	assert.Equal(t, "foo", results[0].Stacks[0][0].Function)
	assert.Equal(t, "foo", results[0].Stacks[1][0].Function)
}
