package api

import (
	"fmt"
	"regexp"
)

// validDebugID matches a case-insensitive hex string, possibly empty.
var validDebugID = regexp.MustCompile(`^[A-Fa-f0-9]*$`)

// validDebugFilename matches the reference implementation's allowed
// filename character set: alphanumerics, common punctuation, and
// spaces, possibly empty.
var validDebugFilename = regexp.MustCompile(`^[A-Za-z0-9_.+{}@<> ~-]*$`)

// maxJobsDefault is MAX_JOBS from the reference implementation.
const maxJobsDefault = 10

type validationError struct {
	Reason string
	Msg    string
}

func (e *validationError) Error() string { return e.Msg }

func invalidModules(i int, msg string) error {
	return &validationError{Reason: "invalid_modules", Msg: fmt.Sprintf("module index %d %s", i, msg)}
}

func invalidStacks(msg string) error {
	return &validationError{Reason: "invalid_stacks", Msg: msg}
}

func validateModules(modules []wireModule) error {
	for i, m := range modules {
		if !validDebugFilename.MatchString(m[0]) {
			return invalidModules(i, "has an invalid debug_filename")
		}
		if !validDebugID.MatchString(m[1]) {
			return invalidModules(i, "has an invalid debug_id")
		}
	}
	return nil
}

func validateStacks(stacks [][]wireFrame, modules []wireModule) error {
	if len(stacks) == 0 {
		return invalidStacks("no stacks specified")
	}
	for i, stack := range stacks {
		for frameIdx, frame := range stack {
			moduleIndex, moduleOffset := frame[0], frame[1]
			if moduleIndex < -1 || moduleIndex >= int64(len(modules)) {
				return invalidStacks(fmt.Sprintf("stack %d frame %d has a module_index that isn't in modules", i, frameIdx))
			}
			if moduleOffset < 0 {
				return invalidStacks(fmt.Sprintf("stack %d frame %d has an invalid module_offset", i, frameIdx))
			}
		}
	}
	return nil
}

func validateJob(job wireJob) error {
	if err := validateModules(job.MemoryMap); err != nil {
		return err
	}
	return validateStacks(job.Stacks, job.MemoryMap)
}
