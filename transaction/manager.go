/*
Transaction manager.

The thin layer that ties the identifier space and the logs together. Begin
claims a registry slot and allocates an id (the allocation path publishes it
through the slot before its lock is released); Commit and Abort record the
durable status in the commit log, record the commit time when timestamp
tracking is on, and withdraw everything the transaction published.

Concurrency control above this point (snapshots, tuple visibility, lock
queues) is a different subsystem; the logs only answer what it asks.
*/
package transaction

import (
	"time"

	"github.com/pkg/errors"

	"github.com/tsubamedb/tsubame/transaction/clog"
	"github.com/tsubamedb/tsubame/transaction/committs"
	"github.com/tsubamedb/tsubame/transaction/proc"
	"github.com/tsubamedb/tsubame/transaction/txid"
	"github.com/tsubamedb/tsubame/wal"
)

// Manager is transaction manager
type Manager struct {
	tm       *txid.Manager
	cm       *clog.Manager
	cts      *committs.Manager
	registry *proc.Registry
}

// NewManager initializes transaction manager
func NewManager(tm *txid.Manager, cm *clog.Manager, cts *committs.Manager, r *proc.Registry) *Manager {
	return &Manager{
		tm:       tm,
		cm:       cm,
		cts:      cts,
		registry: r,
	}
}

// Begin begins a transaction
func (m *Manager) Begin() (*Tx, error) {
	p, err := m.registry.Acquire()
	if err != nil {
		return nil, errors.Wrap(err, "registry.Acquire failed")
	}
	id, err := m.tm.AllocateNewTxID(p)
	if err != nil {
		m.registry.Release(p)
		return nil, errors.Wrap(err, "AllocateNewTxID failed")
	}
	return newTx(id, p), nil
}

// Commit commits the transaction: durable status first, commit timestamp
// second when tracking is on, then the published values are withdrawn.
func (m *Manager) Commit(tx *Tx) error {
	if IsCompleted(tx.state) {
		return errors.Errorf("transaction %d already completed", tx.id)
	}
	if err := m.cm.SetStateCommitted(tx.id); err != nil {
		return errors.Wrap(err, "SetStateCommitted failed")
	}
	err := m.cts.SetCommitTimestamp(tx.id, committs.Timestamp(time.Now().UnixMicro()), committs.InvalidOriginID)
	if err != nil && !errors.Is(err, committs.ErrDisabled) {
		return errors.Wrap(err, "SetCommitTimestamp failed")
	}
	tx.state = StateCommitted
	m.finish(tx)
	return nil
}

// CommitAsync commits without waiting for the commit record to reach disk.
// lsn is the position of that record; the status page remembers it and the
// page cache flushes WAL up to it before the page itself can be written.
func (m *Manager) CommitAsync(tx *Tx, lsn wal.LSN) error {
	if IsCompleted(tx.state) {
		return errors.Errorf("transaction %d already completed", tx.id)
	}
	if err := m.cm.SetState(tx.id, clog.StateCommitted, lsn); err != nil {
		return errors.Wrap(err, "SetState failed")
	}
	tx.state = StateCommitted
	m.finish(tx)
	return nil
}

// Abort aborts the transaction
func (m *Manager) Abort(tx *Tx) error {
	if IsCompleted(tx.state) {
		return errors.Errorf("transaction %d already completed", tx.id)
	}
	if err := m.cm.SetStateAborted(tx.id); err != nil {
		return errors.Wrap(err, "SetStateAborted failed")
	}
	tx.state = StateAborted
	m.finish(tx)
	return nil
}

// finish withdraws the transaction's published values and returns its slot
func (m *Manager) finish(tx *Tx) {
	tx.proc.ClearXID()
	tx.proc.ClearMXIDs()
	m.registry.Release(tx.proc)
}
