package task

// Decide returns the status a task must hold given whether any of its
// blockers is unfinished, and whether that differs from current.
//
//	HALTED  + blocked   -> HALTED (no write)
//	HALTED  + unblocked -> TODO
//	other   + blocked   -> HALTED
//	other   + unblocked -> unchanged (no write)
//
// A task released from HALTED always restarts at TODO; its status before
// being halted is not remembered.
func Decide(current Status, isBlocked bool) (Status, bool) {
	switch {
	case current == StatusHalted && !isBlocked:
		return StatusTodo, true
	case current != StatusHalted && isBlocked:
		return StatusHalted, true
	default:
		return current, false
	}
}

// isBlocked reports whether any of the given blocker statuses is not DONE.
func isBlocked(blockers []Status) bool {
	for _, st := range blockers {
		if st != StatusDone {
			return true
		}
	}
	return false
}
