// Package symcache compiles a parsed Breakpad symbol model
// (pkg/symfile) into a compact structure supporting O(log n)
// address lookup, and serializes that structure to and from the
// versioned binary blob persisted by pkg/diskcache.
//
// The binary framing (4-byte magic, 4-byte version) follows
// grafana-pyroscope's lidia format; the address-range table and
// Table.Lookup contract mirror lidia.Table.
package symcache

import (
	"sort"

	"github.com/mozilla-services/eliot/pkg/symfile"
)

// Frame is one entry of a Find result. File and Line are the zero
// value when absent (PUBLIC fallback, or a FUNC/inline range with no
// covering line record).
type Frame struct {
	Function string
	File     string
	Line     uint32

	// FunctionAddress is the start address of the covering FUNC,
	// PUBLIC or INLINE range, letting a caller compute a function-relative
	// offset. It is the zero value only if Function is also empty.
	FunctionAddress uint64
}

// Table is the compiled, queryable form of a symbol file.
type Table struct {
	functions []tableFunc // sorted, non-overlapping, by Address
	publics   []tablePublic
}

type tableFunc struct {
	Address, Size uint64
	Name          string
	Lines         []tableLine   // sorted by Address
	Inlines       []tableInline // sorted by (Depth, Address)
}

type tableLine struct {
	Address, Size uint64
	Line          uint32
	File          string
}

type tableInline struct {
	Depth         uint32
	Address, Size uint64
	Function      string
	File          string
	Line          uint32
}

type tablePublic struct {
	Address uint64
	Name    string
}

// Build compiles a parsed symbol model into a Table. Functions are
// sorted by start address; overlapping ranges are coalesced with
// last-wins semantics (the FUNC record that appeared later in the
// source file keeps the disputed range). Names are demangled where a
// mangling scheme is recognized.
func Build(m *symfile.Model) (*Table, error) {
	fns := coalesceFunctions(m.Functions, m.Files, m.InlineOrigins)

	publics := make([]tablePublic, 0, len(m.Publics))
	for _, p := range m.Publics {
		publics = append(publics, tablePublic{Address: p.Address, Name: demangleName(p.Name)})
	}
	sort.Slice(publics, func(i, j int) bool { return publics[i].Address < publics[j].Address })
	publics = coalescePublics(publics)

	return &Table{functions: fns, publics: publics}, nil
}

// coalesceFunctions sorts functions by address and trims overlaps
// against the immediately preceding kept range, last-declared (by
// source order) wins. Breakpad FUNC lists are near-sorted already, so
// overlaps spanning more than one neighboring range do not occur in
// practice.
func coalesceFunctions(fns []*symfile.Function, files, origins map[uint64]string) []tableFunc {
	type indexed struct {
		idx int
		fn  *symfile.Function
	}
	items := make([]indexed, len(fns))
	for i, fn := range fns {
		items[i] = indexed{i, fn}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].fn.Address < items[j].fn.Address })

	type kept struct {
		indexed
		start, end uint64
	}
	var out []kept
	for _, it := range items {
		start, end := it.fn.Address, it.fn.Address+it.fn.Size
		for len(out) > 0 {
			last := &out[len(out)-1]
			if last.end <= start {
				break
			}
			if it.idx > last.idx {
				if start <= last.start {
					out = out[:len(out)-1]
					continue
				}
				last.end = start
				break
			}
			if last.end >= end {
				start = end
				break
			}
			start = last.end
		}
		if start >= end {
			continue
		}
		out = append(out, kept{indexed: it, start: start, end: end})
	}

	result := make([]tableFunc, 0, len(out))
	for _, k := range out {
		tf := tableFunc{
			Address: k.start,
			Size:    k.end - k.start,
			Name:    demangleName(k.fn.Name),
		}
		for _, l := range k.fn.Lines {
			tf.Lines = append(tf.Lines, tableLine{
				Address: l.Address,
				Size:    l.Size,
				Line:    l.LineNo,
				File:    files[l.FileID],
			})
		}
		sort.Slice(tf.Lines, func(i, j int) bool { return tf.Lines[i].Address < tf.Lines[j].Address })

		tf.Inlines = coalesceInlines(k.fn.Inlines, files, origins)
		result = append(result, tf)
	}
	return result
}

// coalesceInlines groups inline records by depth and applies the same
// last-wins overlap rule within each depth (spec's chosen resolution
// for two INLINE records at the same depth covering overlapping
// ranges).
func coalesceInlines(inlines []symfile.Inline, files, origins map[uint64]string) []tableInline {
	byDepth := make(map[uint32][]symfile.Inline)
	for _, inl := range inlines {
		byDepth[inl.Depth] = append(byDepth[inl.Depth], inl)
	}

	var out []tableInline
	for depth, group := range byDepth {
		type indexed struct {
			idx int
			inl symfile.Inline
		}
		items := make([]indexed, len(group))
		for i, inl := range group {
			items[i] = indexed{i, inl}
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].inl.Address < items[j].inl.Address })

		type kept struct {
			indexed
			start, end uint64
		}
		var winners []kept
		for _, it := range items {
			start, end := it.inl.Address, it.inl.Address+it.inl.Size
			for len(winners) > 0 {
				last := &winners[len(winners)-1]
				if last.end <= start {
					break
				}
				if it.idx > last.idx {
					if start <= last.start {
						winners = winners[:len(winners)-1]
						continue
					}
					last.end = start
					break
				}
				if last.end >= end {
					start = end
					break
				}
				start = last.end
			}
			if start >= end {
				continue
			}
			winners = append(winners, kept{indexed: it, start: start, end: end})
		}

		for _, w := range winners {
			out = append(out, tableInline{
				Depth:    depth,
				Address:  w.start,
				Size:     w.end - w.start,
				Function: demangleName(origins[w.inl.OriginID]),
				File:     files[w.inl.CallFileID],
				Line:     w.inl.CallLine,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func coalescePublics(sorted []tablePublic) []tablePublic {
	out := sorted[:0:0]
	for i, p := range sorted {
		if i > 0 && p.Address == sorted[i-1].Address {
			out[len(out)-1] = p // last-wins on exact duplicates
			continue
		}
		out = append(out, p)
	}
	return out
}

// Find returns the frame list for offset, innermost first, or nil if
// offset is not covered by any FUNC or PUBLIC range. The innermost
// frame comes from the enclosing FUNC (or PUBLIC, when no FUNC
// covers offset); enclosing inline frames, if any, follow in order of
// increasing depth.
func (t *Table) Find(offset uint64) []Frame {
	if fn, ok := t.findFunc(offset); ok {
		frames := []Frame{{Function: fn.Name, FunctionAddress: fn.Address}}
		if l, ok := findLine(fn.Lines, offset); ok {
			frames[0].File = l.File
			frames[0].Line = l.Line
		}
		for _, inl := range fn.Inlines {
			if offset < inl.Address || offset >= inl.Address+inl.Size {
				continue
			}
			frames = append(frames, Frame{Function: inl.Function, File: inl.File, Line: inl.Line, FunctionAddress: inl.Address})
		}
		return frames
	}

	if pub, ok := t.findPublic(offset); ok {
		return []Frame{{Function: pub.Name, FunctionAddress: pub.Address}}
	}
	return nil
}

func (t *Table) findFunc(offset uint64) (tableFunc, bool) {
	i := sort.Search(len(t.functions), func(i int) bool { return t.functions[i].Address > offset })
	if i == 0 {
		return tableFunc{}, false
	}
	fn := t.functions[i-1]
	if offset >= fn.Address && offset < fn.Address+fn.Size {
		return fn, true
	}
	return tableFunc{}, false
}

func findLine(lines []tableLine, offset uint64) (tableLine, bool) {
	i := sort.Search(len(lines), func(i int) bool { return lines[i].Address > offset })
	if i == 0 {
		return tableLine{}, false
	}
	l := lines[i-1]
	if offset >= l.Address && offset < l.Address+l.Size {
		return l, true
	}
	return tableLine{}, false
}

// findPublic returns the PUBLIC symbol whose address is the greatest
// address not exceeding offset: PUBLIC records have no length, so the
// symbol is assumed to extend to the next PUBLIC record (or infinity).
func (t *Table) findPublic(offset uint64) (tablePublic, bool) {
	i := sort.Search(len(t.publics), func(i int) bool { return t.publics[i].Address > offset })
	if i == 0 {
		return tablePublic{}, false
	}
	return t.publics[i-1], true
}
