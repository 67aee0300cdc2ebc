package transaction

// State is the in-memory lifecycle state of a transaction handle.
// the durable 2-bit status lives in the commit log; this tracks the handle
// itself between Begin and Commit/Abort.
type State uint

const (
	// during transaction
	StateInProgress State = iota
	// transaction committed
	StateCommitted
	// transaction aborted
	StateAborted
)

// IsCompleted checks whether the transaction has been completed
func IsCompleted(state State) bool {
	if state == StateCommitted || state == StateAborted {
		return true
	}
	return false
}
