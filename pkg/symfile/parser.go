package symfile

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

const maxLineLength = 1 << 20

// Parse reads a Breakpad-format text symbol file from r and returns
// its in-memory model. wantDebugID, if non-empty, must match the
// MODULE record's debug id (case-insensitively) or parsing fails with
// ReasonBadDebugID.
//
// Parsing is streaming: a bufio.Scanner walks the input line by line
// and only the growing Model is retained in memory.
func Parse(r io.Reader, wantDebugID string) (*Model, error) {
	m := newModel()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	var current *Function
	sawModule := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}

		kind, rest := splitFirst(line)
		switch kind {
		case "MODULE":
			if sawModule {
				continue // spec: only the first MODULE line matters
			}
			if err := parseModule(m, rest, wantDebugID, lineNo); err != nil {
				return nil, err
			}
			sawModule = true
			current = nil

		case "FILE":
			if !sawModule {
				return nil, &ParseError{Reason: ReasonNoModule, Line: lineNo, Detail: "FILE before MODULE"}
			}
			id, path, err := parseFile(rest)
			if err != nil {
				return nil, &ParseError{Reason: ReasonMalformed, Line: lineNo, Detail: err.Error()}
			}
			m.Files[id] = path
			current = nil

		case "INLINE_ORIGIN":
			id, name, err := parseInlineOrigin(rest)
			if err != nil {
				return nil, &ParseError{Reason: ReasonMalformed, Line: lineNo, Detail: err.Error()}
			}
			m.InlineOrigins[id] = name
			current = nil

		case "FUNC":
			fn, err := parseFunc(rest)
			if err != nil {
				return nil, &ParseError{Reason: ReasonMalformed, Line: lineNo, Detail: err.Error()}
			}
			m.Functions = append(m.Functions, fn)
			current = fn

		case "PUBLIC":
			pub, err := parsePublic(rest)
			if err != nil {
				return nil, &ParseError{Reason: ReasonMalformed, Line: lineNo, Detail: err.Error()}
			}
			m.Publics = append(m.Publics, pub)
			current = nil

		case "INLINE":
			if current == nil {
				continue // no enclosing FUNC, skip like an unknown directive
			}
			inl, err := parseInline(rest)
			if err != nil {
				return nil, &ParseError{Reason: ReasonMalformed, Line: lineNo, Detail: err.Error()}
			}
			current.Inlines = append(current.Inlines, inl)

		case "STACK", "INFO":
			current = nil // opaque, skipped

		default:
			if current != nil && looksLikeLineRecord(kind) {
				ln, err := parseLineRecord(line)
				if err != nil {
					return nil, &ParseError{Reason: ReasonMalformed, Line: lineNo, Detail: err.Error()}
				}
				current.Lines = append(current.Lines, ln)
			}
			// otherwise: unknown directive, skipped silently
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Reason: ReasonMalformed, Line: lineNo, Detail: err.Error()}
	}
	if !sawModule {
		return nil, &ParseError{Reason: ReasonNoModule, Detail: "no MODULE record"}
	}
	return m, nil
}

func splitFirst(line string) (kind, rest string) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, ""
	}
	return line[:i], line[i+1:]
}

// looksLikeLineRecord reports whether the first token of an
// unrecognized line is a bare hex address, which is how a line record
// (addr size line file_id) is distinguished from an unknown directive.
func looksLikeLineRecord(firstToken string) bool {
	_, err := strconv.ParseUint(firstToken, 16, 64)
	return err == nil
}

func parseModule(m *Model, rest, wantDebugID string, lineNo int) error {
	fields := strings.SplitN(rest, " ", 4)
	if len(fields) < 4 {
		return &ParseError{Reason: ReasonMalformed, Line: lineNo, Detail: "MODULE: too few fields"}
	}
	m.OS = fields[0]
	m.Arch = fields[1]
	m.DebugID = strings.ToUpper(fields[2])
	m.Name = fields[3]

	if wantDebugID != "" && !strings.EqualFold(wantDebugID, m.DebugID) {
		return &ParseError{
			Reason: ReasonBadDebugID,
			Line:   lineNo,
			Detail: "MODULE debug id " + m.DebugID + " does not match requested " + strings.ToUpper(wantDebugID),
		}
	}
	return nil
}

func parseFile(rest string) (id uint64, path string, err error) {
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) < 2 {
		return 0, "", errMalformed("FILE: too few fields")
	}
	id, err = strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, "", errMalformed("FILE: bad id: " + err.Error())
	}
	return id, fields[1], nil
}

func parseInlineOrigin(rest string) (id uint64, name string, err error) {
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) < 2 {
		return 0, "", errMalformed("INLINE_ORIGIN: too few fields")
	}
	id, err = strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, "", errMalformed("INLINE_ORIGIN: bad id: " + err.Error())
	}
	return id, fields[1], nil
}

func parseFunc(rest string) (*Function, error) {
	multiple := false
	if strings.HasPrefix(rest, "m ") {
		multiple = true
		rest = rest[2:]
	}
	fields := strings.SplitN(rest, " ", 4)
	if len(fields) < 4 {
		return nil, errMalformed("FUNC: too few fields")
	}
	addr, err := parseHex64(fields[0])
	if err != nil {
		return nil, errMalformed("FUNC: bad address: " + err.Error())
	}
	size, err := parseHex64(fields[1])
	if err != nil {
		return nil, errMalformed("FUNC: bad size: " + err.Error())
	}
	paramSize, err := parseHex64(fields[2])
	if err != nil {
		return nil, errMalformed("FUNC: bad param_size: " + err.Error())
	}
	return &Function{
		Address:   addr,
		Size:      size,
		ParamSize: paramSize,
		Name:      fields[3],
		Multiple:  multiple,
	}, nil
}

func parsePublic(rest string) (Public, error) {
	multiple := false
	if strings.HasPrefix(rest, "m ") {
		multiple = true
		rest = rest[2:]
	}
	fields := strings.SplitN(rest, " ", 3)
	if len(fields) < 3 {
		return Public{}, errMalformed("PUBLIC: too few fields")
	}
	addr, err := parseHex64(fields[0])
	if err != nil {
		return Public{}, errMalformed("PUBLIC: bad address: " + err.Error())
	}
	paramSize, err := parseHex64(fields[1])
	if err != nil {
		return Public{}, errMalformed("PUBLIC: bad param_size: " + err.Error())
	}
	return Public{
		Address:   addr,
		ParamSize: paramSize,
		Name:      fields[2],
		Multiple:  multiple,
	}, nil
}

// parseInline handles "INLINE depth call_site_line call_site_file origin_id addr size [addr size ...]".
// Only the first address range is modeled; additional addr/size pairs
// on the same INLINE line must come in pairs but are otherwise ignored.
func parseInline(rest string) (Inline, error) {
	fields := strings.Fields(rest)
	if len(fields) < 6 || (len(fields)-4)%2 != 0 {
		return Inline{}, errMalformed("INLINE: too few or misaligned fields")
	}
	depth, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return Inline{}, errMalformed("INLINE: bad depth: " + err.Error())
	}
	callLine, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return Inline{}, errMalformed("INLINE: bad call_site_line: " + err.Error())
	}
	callFile, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Inline{}, errMalformed("INLINE: bad call_site_file: " + err.Error())
	}
	originID, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return Inline{}, errMalformed("INLINE: bad origin_id: " + err.Error())
	}
	addr, err := parseHex64(fields[4])
	if err != nil {
		return Inline{}, errMalformed("INLINE: bad addr: " + err.Error())
	}
	size, err := parseHex64(fields[5])
	if err != nil {
		return Inline{}, errMalformed("INLINE: bad size: " + err.Error())
	}
	return Inline{
		Depth:      uint32(depth),
		CallLine:   uint32(callLine),
		CallFileID: callFile,
		OriginID:   originID,
		Address:    addr,
		Size:       size,
	}, nil
}

func parseLineRecord(line string) (Line, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return Line{}, errMalformed("line record: expected 4 fields")
	}
	addr, err := parseHex64(fields[0])
	if err != nil {
		return Line{}, errMalformed("line record: bad address: " + err.Error())
	}
	size, err := parseHex64(fields[1])
	if err != nil {
		return Line{}, errMalformed("line record: bad size: " + err.Error())
	}
	lineNo, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Line{}, errMalformed("line record: bad line number: " + err.Error())
	}
	fileID, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return Line{}, errMalformed("line record: bad file id: " + err.Error())
	}
	return Line{Address: addr, Size: size, LineNo: uint32(lineNo), FileID: fileID}, nil
}

func parseHex64(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}

func errMalformed(detail string) error {
	return errors.New(detail)
}
