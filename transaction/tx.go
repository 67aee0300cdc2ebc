package transaction

import (
	"github.com/tsubamedb/tsubame/transaction/multixact"
	"github.com/tsubamedb/tsubame/transaction/proc"
	"github.com/tsubamedb/tsubame/transaction/txid"
)

// Tx is a transaction handle. For its duration it owns the worker's registry
// slot and the session-scoped multixact caches.
type Tx struct {
	id      txid.TxID
	state   State
	proc    *proc.Proc
	session *multixact.Session
}

// newTx initializes transaction handle
func newTx(id txid.TxID, p *proc.Proc) *Tx {
	return &Tx{
		id:      id,
		state:   StateInProgress,
		proc:    p,
		session: multixact.NewSession(),
	}
}

// ID returns transaction id
func (tx *Tx) ID() txid.TxID {
	return tx.id
}

// State returns transaction state
func (tx *Tx) State() State {
	return tx.state
}

// Proc returns the registry slot the transaction publishes through
func (tx *Tx) Proc() *proc.Proc {
	return tx.proc
}

// Session returns the transaction's multixact session caches
func (tx *Tx) Session() *multixact.Session {
	return tx.session
}
