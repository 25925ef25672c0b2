package api

import (
	"strconv"

	"github.com/mozilla-services/eliot/pkg/symbolicator"
)

func toSymbolicatorJobs(jobs []wireJob) []symbolicator.Job {
	out := make([]symbolicator.Job, len(jobs))
	for i, j := range jobs {
		out[i] = toSymbolicatorJob(j)
	}
	return out
}

func toSymbolicatorJob(j wireJob) symbolicator.Job {
	memMap := make([]symbolicator.ModuleRef, len(j.MemoryMap))
	for i, m := range j.MemoryMap {
		memMap[i] = symbolicator.ModuleRef{DebugFilename: m[0], DebugID: m[1]}
	}

	stacks := make([][]symbolicator.FrameRequest, len(j.Stacks))
	for i, stack := range j.Stacks {
		frames := make([]symbolicator.FrameRequest, len(stack))
		for fi, f := range stack {
			frames[fi] = symbolicator.FrameRequest{ModuleIndex: int(f[0]), Offset: uint64(f[1])}
		}
		stacks[i] = frames
	}

	return symbolicator.Job{MemoryMap: memMap, Stacks: stacks}
}

func toV5JobResponse(job wireJob, result symbolicator.JobResult) v5JobResponse {
	stacks := make([][]v5FrameResponse, len(result.Stacks))
	for i, stack := range result.Stacks {
		frames := make([]v5FrameResponse, len(stack))
		for fi, fr := range stack {
			frames[fi] = toV5FrameResponse(fr)
		}
		stacks[i] = frames
	}

	found := make(map[string]*bool, len(job.MemoryMap))
	for _, m := range job.MemoryMap {
		key := m[0] + "/" + m[1]
		if v, ok := result.FoundModules[key]; ok {
			vv := v
			found[key] = &vv
		} else {
			found[key] = nil
		}
	}

	return v5JobResponse{Stacks: stacks, FoundModules: found}
}

func toV5FrameResponse(fr symbolicator.ResolvedFrame) v5FrameResponse {
	out := v5FrameResponse{
		Frame:        fr.Index,
		Module:       fr.Module,
		ModuleOffset: hexString(fr.ModuleOffset),
	}
	if fr.HasFunction {
		out.Function = fr.Function
		out.FunctionOffset = hexString(fr.FunctionOffset)
	}
	if fr.HasFile {
		out.File = fr.File
		if fr.Line > 0 {
			line := fr.Line
			out.Line = &line
		}
	}
	for _, inl := range fr.Inlines {
		inlResp := v5InlineResponse{Function: inl.Function}
		if inl.File != "" {
			inlResp.File = inl.File
			if inl.Line > 0 {
				line := inl.Line
				inlResp.Line = &line
			}
		}
		out.Inlines = append(out.Inlines, inlResp)
	}
	return out
}

func hexString(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// frameToFunction renders the v4 per-frame string:
// "<function-or-hex-offset> (in <module>)".
func frameToFunction(fr v5FrameResponse) string {
	function := fr.Function
	if function == "" {
		function = fr.ModuleOffset
	}
	return function + " (in " + fr.Module + ")"
}
