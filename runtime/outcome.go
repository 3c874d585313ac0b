package runtime

import "fmt"

// Outcome classifies a replay.
type Outcome string

// Replay outcomes.
const (
	// OutcomeClean means every session completed and nothing was reset.
	OutcomeClean Outcome = "clean"
	// OutcomeResets means at least one session was reset.
	OutcomeResets Outcome = "resets"
	// OutcomeIncomplete means a session was still awaiting data at the end.
	OutcomeIncomplete Outcome = "incomplete"
	// OutcomeEmpty means no session was ever started.
	OutcomeEmpty Outcome = "empty"
)

// Exit codes for replay-driven commands.
const (
	ExitCodeClean        = 0 // every session completed
	ExitCodeResets       = 1 // at least one reset
	ExitCodeIncomplete   = 2 // a session was left open or nothing happened
	ExitCodeInvalidInput = 3 // unreadable capture or bad configuration
)

// DetermineOutcome classifies a finished replay report.
//
// Precedence: a session left open beats resets, resets beat a clean run,
// and a capture that never started a session is empty.
func DetermineOutcome(r *ReplayReport) (Outcome, string, int) {
	var started, completed, resets, open int64
	for _, cs := range r.Channels {
		started += cs.Started
		completed += cs.Completed
		resets += cs.Resets
		if cs.Open {
			open++
		}
	}
	switch {
	case open > 0:
		return OutcomeIncomplete, fmt.Sprintf("%d session(s) still awaiting data", open), ExitCodeIncomplete
	case started == 0:
		return OutcomeEmpty, "no session was started", ExitCodeIncomplete
	case resets > 0:
		return OutcomeResets, fmt.Sprintf("%d completed, %d reset", completed, resets), ExitCodeResets
	default:
		return OutcomeClean, fmt.Sprintf("%d completed", completed), ExitCodeClean
	}
}
