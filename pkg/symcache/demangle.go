package symcache

import "github.com/ianlancetaylor/demangle"

// demangleOptions controls how much of the demangled signature is
// kept; symbol names in responses read better without template and
// parameter noise.
var demangleOptions = []demangle.Option{demangle.NoParams, demangle.NoTemplateParams, demangle.NoClones}

// demangleName demangles name if and only if it looks like an Itanium
// C++ mangled symbol (the only mangling scheme the corpus's sym files
// use). A demangle failure leaves the original name untouched.
func demangleName(name string) string {
	if len(name) < 2 || name[0] != '_' || name[1] != 'Z' {
		return name
	}
	out, err := demangle.ToString(name, demangleOptions...)
	if err != nil {
		return name
	}
	return out
}
