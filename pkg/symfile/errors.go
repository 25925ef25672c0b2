package symfile

import "fmt"

// Reason enumerates the parse failure taxonomy used for the
// symbolicate.parse_sym_file.error metric tag.
type Reason string

const (
	ReasonBadDebugID Reason = "bad_debug_id"
	ReasonMalformed  Reason = "malformed"
	ReasonEmpty      Reason = "empty_file"
	ReasonNoModule   Reason = "no_module_line"
)

// ParseError is returned by Parse for any recognized failure. The
// Reason field is stable and safe to use as a metric tag.
type ParseError struct {
	Reason Reason
	Line   int
	Detail string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("symfile: %s at line %d: %s", e.Reason, e.Line, e.Detail)
	}
	return fmt.Sprintf("symfile: %s: %s", e.Reason, e.Detail)
}

// Permanent reports whether the error indicates the sym file will
// never parse regardless of retry, so a negative cache sentinel may be
// published for it (spec §7, ParseError policy).
func (e *ParseError) Permanent() bool {
	return e.Reason == ReasonBadDebugID
}
