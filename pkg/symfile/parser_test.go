package symfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSym = `MODULE mac x86_64 AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA0 xul.pdb
FILE 7 src/foo.cpp
INLINE_ORIGIN 0 bar()
FUNC 1200 100 0 foo
1200 8 40 7
1234 8 42 7
INLINE 0 42 7 0 1234 4
PUBLIC 2000 0 baz
STACK CFI 1200 .cfa: rsp 8 +
`

func TestParseBasic(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleSym), "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA0")
	require.NoError(t, err)

	assert.Equal(t, "mac", m.OS)
	assert.Equal(t, "x86_64", m.Arch)
	assert.Equal(t, "xul.pdb", m.Name)
	assert.Equal(t, "src/foo.cpp", m.Files[7])
	assert.Equal(t, "bar()", m.InlineOrigins[0])

	require.Len(t, m.Functions, 1)
	fn := m.Functions[0]
	assert.EqualValues(t, 0x1200, fn.Address)
	assert.EqualValues(t, 0x100, fn.Size)
	assert.Equal(t, "foo", fn.Name)
	require.Len(t, fn.Lines, 2)
	assert.EqualValues(t, 42, fn.Lines[1].LineNo)
	require.Len(t, fn.Inlines, 1)
	assert.EqualValues(t, 0, fn.Inlines[0].Depth)

	require.Len(t, m.Publics, 1)
	assert.Equal(t, "baz", m.Publics[0].Name)
}

func TestParseBadDebugID(t *testing.T) {
	_, err := Parse(strings.NewReader(sampleSym), "DEADBEEF")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ReasonBadDebugID, pe.Reason)
	assert.True(t, pe.Permanent())
}

func TestParseMalformedInteger(t *testing.T) {
	bad := "MODULE mac x86_64 AAA0 xul.pdb\nFUNC zzzz 100 0 foo\n"
	_, err := Parse(strings.NewReader(bad), "")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ReasonMalformed, pe.Reason)
}

func TestParseNoModule(t *testing.T) {
	_, err := Parse(strings.NewReader("FUNC 100 10 0 foo\n"), "")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ReasonNoModule, pe.Reason)
}

func TestParseUnknownDirectiveSkipped(t *testing.T) {
	src := "MODULE mac x86_64 AAA0 xul.pdb\nCUSTOM_DIRECTIVE foo bar\nFUNC 100 10 0 foo\n"
	m, err := Parse(strings.NewReader(src), "")
	require.NoError(t, err)
	require.Len(t, m.Functions, 1)
}
