package api

// debugStats mirrors the reference implementation's DebugStats: a
// small bag of per-request aggregates attached to the v5 response
// when the caller sends a "Debug: true" header. Most of the original
// per-module timing breakdown lives inside the symbolicator and
// downloader metrics already; this carries only the aggregate counts
// that are meaningful to reconstruct at the API layer.
type debugStats struct {
	ModulesCount int            `json:"modules_count"`
	JobsCount    int            `json:"jobs_count"`
	StacksCount  int            `json:"stacks_count"`
	FramesCount  int            `json:"frames_count"`
}

func buildDebugStats(jobs []wireJob, jobResults []v5JobResponse) *debugStats {
	stats := &debugStats{JobsCount: len(jobs)}

	seen := make(map[string]bool)
	for _, jr := range jobResults {
		for key, found := range jr.FoundModules {
			if found != nil && !seen[key] {
				seen[key] = true
				stats.ModulesCount++
			}
		}
	}

	for _, j := range jobs {
		stats.StacksCount += len(j.Stacks)
		for _, stack := range j.Stacks {
			stats.FramesCount += len(stack)
		}
	}

	return stats
}
