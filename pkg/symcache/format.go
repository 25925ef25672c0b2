package symcache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var formatMagic = [4]byte{'S', 'Y', 'M', 'C'}

// CurrentVersion is the format version this build of the package
// writes and the only version it accepts on read. Bumping it makes
// every existing disk cache entry a cold miss (spec §4.2: "Loaders
// reject blobs whose version does not match the current builder's
// version").
const CurrentVersion uint32 = 1

var (
	ErrBadMagic        = errors.New("symcache: bad magic")
	ErrVersionMismatch = errors.New("symcache: unsupported format version")
	ErrTruncated       = errors.New("symcache: truncated data")
)

// MarshalBinary serializes t into the on-disk symcache blob format:
// a 4-byte magic, a 4-byte version, then the function and public
// tables.
func (t *Table) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(formatMagic[:])
	writeUint32(&buf, CurrentVersion)

	writeUint32(&buf, uint32(len(t.functions)))
	for _, fn := range t.functions {
		writeUint64(&buf, fn.Address)
		writeUint64(&buf, fn.Size)
		writeString(&buf, fn.Name)

		writeUint32(&buf, uint32(len(fn.Lines)))
		for _, l := range fn.Lines {
			writeUint64(&buf, l.Address)
			writeUint64(&buf, l.Size)
			writeUint32(&buf, l.Line)
			writeString(&buf, l.File)
		}

		writeUint32(&buf, uint32(len(fn.Inlines)))
		for _, inl := range fn.Inlines {
			writeUint32(&buf, inl.Depth)
			writeUint64(&buf, inl.Address)
			writeUint64(&buf, inl.Size)
			writeString(&buf, inl.Function)
			writeString(&buf, inl.File)
			writeUint32(&buf, inl.Line)
		}
	}

	writeUint32(&buf, uint32(len(t.publics)))
	for _, p := range t.publics {
		writeUint64(&buf, p.Address)
		writeString(&buf, p.Name)
	}

	return buf.Bytes(), nil
}

// Unmarshal parses a symcache blob produced by MarshalBinary. A magic
// mismatch or unsupported version is a cold miss: the caller (the
// disk cache loader) should treat it exactly like an absent entry and
// delete the stale blob.
func Unmarshal(data []byte) (*Table, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if magic != formatMagic {
		return nil, ErrBadMagic
	}

	version, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if version != CurrentVersion {
		return nil, ErrVersionMismatch
	}

	numFuncs, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	t := &Table{functions: make([]tableFunc, numFuncs)}
	for i := range t.functions {
		fn := &t.functions[i]
		if fn.Address, err = readUint64(r); err != nil {
			return nil, err
		}
		if fn.Size, err = readUint64(r); err != nil {
			return nil, err
		}
		if fn.Name, err = readString(r); err != nil {
			return nil, err
		}

		numLines, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		fn.Lines = make([]tableLine, numLines)
		for j := range fn.Lines {
			l := &fn.Lines[j]
			if l.Address, err = readUint64(r); err != nil {
				return nil, err
			}
			if l.Size, err = readUint64(r); err != nil {
				return nil, err
			}
			if l.Line, err = readUint32(r); err != nil {
				return nil, err
			}
			if l.File, err = readString(r); err != nil {
				return nil, err
			}
		}

		numInlines, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		fn.Inlines = make([]tableInline, numInlines)
		for j := range fn.Inlines {
			inl := &fn.Inlines[j]
			if inl.Depth, err = readUint32(r); err != nil {
				return nil, err
			}
			if inl.Address, err = readUint64(r); err != nil {
				return nil, err
			}
			if inl.Size, err = readUint64(r); err != nil {
				return nil, err
			}
			if inl.Function, err = readString(r); err != nil {
				return nil, err
			}
			if inl.File, err = readString(r); err != nil {
				return nil, err
			}
			if inl.Line, err = readUint32(r); err != nil {
				return nil, err
			}
		}
	}

	numPublics, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	t.publics = make([]tablePublic, numPublics)
	for i := range t.publics {
		p := &t.publics[i]
		if p.Address, err = readUint64(r); err != nil {
			return nil, err
		}
		if p.Name, err = readString(r); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return string(b), nil
}
