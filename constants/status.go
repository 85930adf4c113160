package constants

// Step is the canonical pipeline position stored on a job record. Steps only
// move forward; ERROR is reachable from intake alone. A stage failure after
// PENDING leaves the record parked at its last completed step.
type Step string

// Stable values (store these exact strings in DB).
const (
	StepPending    Step = "PENDING"            // engine accepted, results not fetched yet
	StepError      Step = "ERROR"              // engine rejected the submission
	StepBlocks     Step = "PARTIAL:BLOCKS"     // stage 1 completed (raw blocks persisted)
	StepParsed     Step = "PARTIAL:PARSED"     // stage 2 completed (form/table/confidence derived)
	StepClassified Step = "PARTIAL:CLASSIFIED" // stage 3 completed (terminal)
)

// Valid reports whether s is one of the stable step values.
func Valid(s Step) bool {
	switch s {
	case StepPending, StepError, StepBlocks, StepParsed, StepClassified:
		return true
	}
	return false
}
