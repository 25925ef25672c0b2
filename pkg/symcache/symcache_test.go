package symcache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/eliot/pkg/symfile"
)

const sampleSym = `MODULE mac x86_64 AAAA0 xul.pdb
FILE 7 src/foo.cpp
INLINE_ORIGIN 0 bar()
FUNC 1200 100 0 foo
1200 8 40 7
1234 8 42 7
INLINE 0 42 7 0 1234 4
PUBLIC 2000 0 baz
`

func buildSample(t *testing.T) *Table {
	t.Helper()
	m, err := symfile.Parse(strings.NewReader(sampleSym), "")
	require.NoError(t, err)
	table, err := Build(m)
	require.NoError(t, err)
	return table
}

func TestFindWithinFunc(t *testing.T) {
	table := buildSample(t)

	frames := table.Find(0x1234)
	require.NotEmpty(t, frames)
	assert.Equal(t, "foo", frames[0].Function)
	assert.Equal(t, "src/foo.cpp", frames[0].File)
	assert.EqualValues(t, 42, frames[0].Line)

	require.Len(t, frames, 2)
	assert.Equal(t, "bar()", frames[1].Function)
	assert.Equal(t, "src/foo.cpp", frames[1].File)
	assert.EqualValues(t, 42, frames[1].Line)
}

func TestFindLineWithoutInline(t *testing.T) {
	table := buildSample(t)
	frames := table.Find(0x1200)
	require.Len(t, frames, 1)
	assert.Equal(t, "foo", frames[0].Function)
	assert.EqualValues(t, 40, frames[0].Line)
}

func TestFindPublicFallback(t *testing.T) {
	table := buildSample(t)
	frames := table.Find(0x2005)
	require.Len(t, frames, 1)
	assert.Equal(t, "baz", frames[0].Function)
	assert.Empty(t, frames[0].File)
	assert.Zero(t, frames[0].Line)
}

func TestFindOutOfRange(t *testing.T) {
	table := buildSample(t)
	// Below every FUNC and PUBLIC address in the sample: uncovered.
	assert.Nil(t, table.Find(0x10))
}

func TestOverlapCoalescingLastWins(t *testing.T) {
	src := "MODULE mac x86_64 AAAA0 xul.pdb\nFUNC 1000 100 0 first\nFUNC 1050 100 0 second\n"
	m, err := symfile.Parse(strings.NewReader(src), "")
	require.NoError(t, err)
	table, err := Build(m)
	require.NoError(t, err)

	// second was declared later and starts inside first's range: it
	// wins the overlap, first is trimmed to [0x1000, 0x1050).
	frames := table.Find(0x1060)
	require.Len(t, frames, 1)
	assert.Equal(t, "second", frames[0].Function)

	frames = table.Find(0x1010)
	require.Len(t, frames, 1)
	assert.Equal(t, "first", frames[0].Function)
}

func TestMarshalRoundTrip(t *testing.T) {
	table := buildSample(t)
	data, err := table.MarshalBinary()
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	frames := decoded.Find(0x1234)
	require.Len(t, frames, 2)
	assert.Equal(t, "foo", frames[0].Function)
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	_, err := Unmarshal([]byte{0, 0, 0, 0, 1, 0, 0, 0})
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestUnmarshalRejectsVersionMismatch(t *testing.T) {
	data := append(append([]byte{}, formatMagic[:]...), 0xff, 0, 0, 0)
	_, err := Unmarshal(data)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}
