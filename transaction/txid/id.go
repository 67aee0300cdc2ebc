package txid

// TxID is transaction id.
// defined as unsigned 64 bits; the space is treated as a circle, so
// comparisons must go through Precedes/Follows rather than plain < or >.
type TxID uint64

const (
	// invalid transaction id
	InvalidTxID TxID = 0
	// transaction id used by system bootstrap processing
	BootstrapTxID TxID = 1
	// transaction id frozen by maintenance (visible to every transaction).
	// frozen transaction id must be smaller than the first normal id
	FrozenTxID TxID = 2
	// first transaction id allocated by the transaction id manager
	FirstTxID TxID = 3
)

// IsValid checks whether the transaction id is valid
func (id TxID) IsValid() bool {
	return id != InvalidTxID
}

// IsNormal checks whether the transaction id is a normal allocated one
func (id TxID) IsNormal() bool {
	return id >= FirstTxID
}

// IsEqual checks whether the transaction id is equal to the compared
func (id TxID) IsEqual(compared TxID) bool {
	return id == compared
}

// Precedes checks whether id logically precedes compared on the circular id
// space. The signed difference makes ids more than half the ring apart
// compare as wrapped: if the diff exceeds 2^63 the numerically bigger id is
// treated as the older one. At most 2^63 ids may be in existence at once or
// the comparison becomes ambiguous; that bound is enforced by wraparound
// prevention, not here.
func (id TxID) Precedes(compared TxID) bool {
	if !id.IsNormal() || !compared.IsNormal() {
		return id < compared
	}
	diff := id - compared
	return int64(diff) < 0
}

// PrecedesOrEquals checks whether id precedes or equals compared
func (id TxID) PrecedesOrEquals(compared TxID) bool {
	if !id.IsNormal() || !compared.IsNormal() {
		return id <= compared
	}
	diff := id - compared
	return int64(diff) <= 0
}

// Follows checks whether id logically follows compared
func (id TxID) Follows(compared TxID) bool {
	return compared.Precedes(id)
}

// FollowsOrEquals checks whether id follows or equals compared
func (id TxID) FollowsOrEquals(compared TxID) bool {
	return compared.PrecedesOrEquals(id)
}

// Advance advances the transaction id, skipping the reserved ids on wraparound
func (id TxID) Advance() TxID {
	id++
	if !id.IsNormal() {
		return FirstTxID
	}
	return id
}
