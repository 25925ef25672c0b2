package api

import (
	"net/http"

	"github.com/mozilla-services/eliot/pkg/symbolicator"
)

// handleV4 implements the legacy single-job symbolication shape:
// one job per request, no inline expansion.
func (h *Handler) handleV4(w http.ResponseWriter, r *http.Request) {
	var job wireJob
	if !h.decodeBody(w, r, &job) {
		return
	}

	if err := validateJob(job); err != nil {
		h.writeValidationError(w, err)
		return
	}

	results, err := h.sym.Symbolicate(r.Context(), []symbolicator.Job{toSymbolicatorJob(job)}, "v4")
	if err != nil {
		h.writeInternalError(w, err, "symbolicating v4 request")
		return
	}

	jobResp := toV5JobResponse(job, results[0])

	symbolicatedStacks := make([][]string, len(jobResp.Stacks))
	for i, stack := range jobResp.Stacks {
		row := make([]string, len(stack))
		for fi, fr := range stack {
			row[fi] = frameToFunction(fr)
		}
		symbolicatedStacks[i] = row
	}

	knownModules := make([]*bool, len(job.MemoryMap))
	for i, m := range job.MemoryMap {
		knownModules[i] = jobResp.FoundModules[m[0]+"/"+m[1]]
	}

	h.writeResponseJSON(w, v4Response{
		SymbolicatedStacks: symbolicatedStacks,
		KnownModules:       knownModules,
	})
}

func (h *Handler) writeValidationError(w http.ResponseWriter, err error) {
	if verr, ok := err.(*validationError); ok {
		h.writeError(w, http.StatusBadRequest, verr.Reason, verr.Msg)
		return
	}
	h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
}
