package api

import "net/http"

// handleV5 implements the multi-job shape: a "jobs" array (or a
// single bare job, unwrapped), each reported with a found_modules map
// and inline frames expanded in place.
func (h *Handler) handleV5(w http.ResponseWriter, r *http.Request) {
	var req v5Request
	if !h.decodeBody(w, r, &req) {
		return
	}

	if len(req.Jobs) > h.maxJobs {
		h.writeError(w, http.StatusBadRequest, "too_many_jobs",
			"please limit number of jobs in a single request")
		return
	}

	for i, job := range req.Jobs {
		if err := validateJob(job); err != nil {
			h.writeValidationErrorForJob(w, i, err)
			return
		}
	}

	results, err := h.symbolicateAll(r.Context(), req.Jobs)
	if err != nil {
		h.writeInternalError(w, err, "symbolicating v5 request")
		return
	}

	jobResponses := make([]v5JobResponse, len(req.Jobs))
	for i, job := range req.Jobs {
		jobResponses[i] = toV5JobResponse(job, results[i])
	}

	response := v5Response{Results: jobResponses}
	if r.Header.Get("Debug") == "true" {
		response.Debug = buildDebugStats(req.Jobs, jobResponses)
	}

	h.writeResponseJSON(w, response)
}

func (h *Handler) writeValidationErrorForJob(w http.ResponseWriter, i int, err error) {
	if verr, ok := err.(*validationError); ok {
		h.writeError(w, http.StatusBadRequest, verr.Reason, verr.Msg)
		return
	}
	h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
}
