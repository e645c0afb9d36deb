package scheduler

// Outcome is the terminal state of a scheduler run.
type Outcome int

const (
	// OutcomeAllDone means every story completed (or the agent emitted
	// the campaign completion marker).
	OutcomeAllDone Outcome = iota
	// OutcomeExhausted means the iteration cap was reached with work
	// remaining; completed progress is preserved for a resumed run.
	OutcomeExhausted
	// OutcomeStalled means no story was runnable and none was running:
	// failed stories and/or unmet (possibly unknown) dependencies.
	OutcomeStalled
	// OutcomeInterrupted means an operator shutdown was handled; the
	// state store was reset to a resumable condition.
	OutcomeInterrupted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllDone:
		return "all-done"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeStalled:
		return "stalled"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}
