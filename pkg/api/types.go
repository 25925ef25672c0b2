// Package api adapts the v4 and v5 symbolication HTTP wire formats
// onto the common pkg/symbolicator job representation.
//
// Grounded on original_source/eliot/symbolicate_resource.py for the
// wire shapes, validation rules, and found_modules semantics, and on
// grafana-pyroscope's pkg/server (gorilla/mux routing, the
// writeError/writeResponseJSON response-writer pattern) for the HTTP
// plumbing around it.
package api

import "encoding/json"

// wireModule is one [debug_filename, debug_id] pair as it appears on
// the wire.
type wireModule [2]string

// wireFrame is one [module_index, module_offset] pair as it appears
// on the wire.
type wireFrame [2]int64

// wireJob is one job as it appears on the wire, shared by v4 (exactly
// one, unwrapped) and v5 (zero or more, under "jobs").
type wireJob struct {
	MemoryMap []wireModule    `json:"memoryMap"`
	Stacks    [][]wireFrame   `json:"stacks"`
	Version   json.RawMessage `json:"version,omitempty"`
}

// v5Request accepts either {"jobs": [...]} or a single bare job
// ({memoryMap, stacks, ...}), matching the reference implementation's
// `jobs = payload["jobs"] if "jobs" in payload else [payload]`.
type v5Request struct {
	Jobs []wireJob `json:"jobs"`
}

func (r *v5Request) UnmarshalJSON(data []byte) error {
	var probe struct {
		Jobs json.RawMessage `json:"jobs"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Jobs != nil {
		return json.Unmarshal(probe.Jobs, &r.Jobs)
	}
	var job wireJob
	if err := json.Unmarshal(data, &job); err != nil {
		return err
	}
	r.Jobs = []wireJob{job}
	return nil
}

// v4Response is the v4 response body: each stack entry rendered as
// "<function-or-hex> (in <module>)", plus one knownModules entry per
// memory-map module.
type v4Response struct {
	SymbolicatedStacks [][]string `json:"symbolicatedStacks"`
	KnownModules       []*bool    `json:"knownModules"`
}

type v5FrameResponse struct {
	Frame          int                 `json:"frame"`
	Module         string              `json:"module"`
	ModuleOffset   string              `json:"module_offset"`
	Function       string              `json:"function,omitempty"`
	FunctionOffset string              `json:"function_offset,omitempty"`
	File           string              `json:"file,omitempty"`
	Line           *uint32             `json:"line,omitempty"`
	Inlines        []v5InlineResponse  `json:"inlines,omitempty"`
}

type v5InlineResponse struct {
	Function string  `json:"function"`
	File     string  `json:"file,omitempty"`
	Line     *uint32 `json:"line,omitempty"`
}

type v5JobResponse struct {
	Stacks       [][]v5FrameResponse `json:"stacks"`
	FoundModules map[string]*bool    `json:"found_modules"`
}

type v5Response struct {
	Results []v5JobResponse `json:"results"`
	Debug   *debugStats     `json:"debug,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
