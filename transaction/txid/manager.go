/*
Transaction id manager.

Transaction id is a shared resource: the next-id counter must be advanced
under one lock, and the ordering inside that lock is the crash-safety core of
the whole subsystem:

 1. if the id about to be handed out is the first one of a new page for any of
    the co-advancing logs (commit log, commit timestamp log), those logs are
    extended first. The extension must fully succeed before the counter moves,
    because an advanced counter is the durable promise that the backing pages
    exist.
 2. the counter advances.
 3. the new id is published into the worker's registry slot before the lock is
    released, so no horizon computed concurrently can ever be newer than
    reality.

----
About wraparound prevention

The id space is a circle; at most 2^63 ids may be in existence at once. The
manager tracks warn and stop limits derived from the oldest unfrozen id. Past
the warn limit it raises a maintenance signal (rate-limited to once per 64 Ki
allocations so a busy system does not flood the maintenance worker); past the
stop limit allocation refuses outright, because handing out more ids would
make circular comparison ambiguous.
*/
package txid

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tsubamedb/tsubame/transaction/proc"
)

const (
	// allocations between two maintenance signals
	signalInterval = 0x10000

	// distance from the stop limit at which warnings begin
	warnWindow = 1 << 24

	// safety margin kept before the theoretical 2^63 ambiguity point
	stopMargin = 1 << 20
)

// LogExtender is implemented by each co-advancing log. ExtendForXID zeroes
// the log's next page when xid is the first id mapped to it, and is a no-op
// otherwise. Called with the allocation lock held, so it must not allocate
// ids itself.
type LogExtender interface {
	ExtendForXID(xid TxID) error
}

// Manager manages the transaction id counter and its horizon bounds
type Manager struct {
	// the allocation lock; guards everything below
	mu sync.Mutex

	// nextTxID is the transaction id which is allotted next time
	nextTxID TxID
	// oldestTxID is the oldest unfrozen id; the basis of the wraparound limits
	oldestTxID TxID
	warnLimit  TxID
	stopLimit  TxID

	registry  *proc.Registry
	extenders []LogExtender

	// maintenance signal, buffered so the sender never blocks
	maintenanceCh chan struct{}
}

// NewManager initializes transaction id manager.
// next and oldest come from the control data the checkpointer saved, or from
// bootstrap values on a fresh cluster.
func NewManager(registry *proc.Registry, next, oldest TxID) *Manager {
	if !next.IsNormal() {
		next = FirstTxID
	}
	if !oldest.IsNormal() {
		oldest = FirstTxID
	}
	m := &Manager{
		nextTxID:      next,
		oldestTxID:    oldest,
		registry:      registry,
		maintenanceCh: make(chan struct{}, 1),
	}
	m.updateLimits()
	return m
}

// RegisterExtender adds a co-advancing log. Registration happens during
// startup wiring, before any allocation.
func (m *Manager) RegisterExtender(e LogExtender) {
	m.mu.Lock()
	m.extenders = append(m.extenders, e)
	m.mu.Unlock()
}

// AllocateNewTxID allocates the next transaction id and publishes it into the
// worker's registry slot before the allocation lock is released.
func (m *Manager) AllocateNewTxID(p *proc.Proc) (TxID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	xid := m.nextTxID

	if err := m.checkWraparound(xid); err != nil {
		return InvalidTxID, err
	}

	// extend the co-advancing logs before the counter moves
	for _, e := range m.extenders {
		if err := e.ExtendForXID(xid); err != nil {
			return InvalidTxID, errors.Wrap(err, "ExtendForXID failed")
		}
	}

	m.nextTxID = xid.Advance()

	// publish before unlock so that no concurrently computed horizon can be
	// newer than this id
	p.PublishXID(uint64(xid))
	return xid, nil
}

// checkWraparound enforces the stop limit and raises the rate-limited
// maintenance signal past the warn limit. allocation lock must be held.
func (m *Manager) checkWraparound(xid TxID) error {
	if xid.FollowsOrEquals(m.stopLimit) {
		return errors.Errorf("transaction id wraparound protection: cannot allocate %d, oldest unfrozen id is %d", xid, m.oldestTxID)
	}
	if xid.FollowsOrEquals(m.warnLimit) && uint64(xid)%signalInterval == 0 {
		log.WithFields(log.Fields{"xid": uint64(xid), "oldest": uint64(m.oldestTxID)}).
			Warn("transaction id space nearing wraparound; maintenance required")
		select {
		case m.maintenanceCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// MaintenanceSignals returns the channel the maintenance worker waits on
func (m *Manager) MaintenanceSignals() <-chan struct{} {
	return m.maintenanceCh
}

// ReadNextTxID returns the id that will be allotted next
func (m *Manager) ReadNextTxID() TxID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextTxID
}

// OldestTxID returns the oldest unfrozen id
func (m *Manager) OldestTxID() TxID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oldestTxID
}

// SetOldestTxID advances the oldest unfrozen id and re-derives the wraparound
// limits. Called by maintenance after it has frozen everything older, and by
// truncation replay.
func (m *Manager) SetOldestTxID(oldest TxID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.oldestTxID.Precedes(oldest) {
		m.oldestTxID = oldest
		m.updateLimits()
	}
}

// AdvanceBeyond forces the next-id counter past xid; replay uses this so that
// ids mentioned in the log are never handed out again after recovery.
func (m *Manager) AdvanceBeyond(xid TxID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextTxID.PrecedesOrEquals(xid) {
		m.nextTxID = xid.Advance()
	}
}

// updateLimits derives warn/stop limits from the oldest unfrozen id.
// allocation lock must be held.
func (m *Manager) updateLimits() {
	// the ambiguity point is half the ring away from the oldest id
	stop := TxID(uint64(m.oldestTxID) + (1 << 63) - stopMargin)
	if !stop.IsNormal() {
		stop = FirstTxID
	}
	warn := TxID(uint64(stop) - warnWindow)
	if !warn.IsNormal() {
		warn = FirstTxID
	}
	m.stopLimit = stop
	m.warnLimit = warn
}

// ComputeOldestNeeded computes the oldest identifier that any worker might
// still reference: the minimum of the live next-id counter and every
// published in-flight id. Only the counter read takes the allocation lock;
// the registry scan runs lock-free, so the result is a safe, possibly
// slightly stale-low lower bound.
func (m *Manager) ComputeOldestNeeded() TxID {
	m.mu.Lock()
	oldest := m.nextTxID
	m.mu.Unlock()

	m.registry.ScanXIDs(func(raw uint64) {
		xid := TxID(raw)
		if xid.Precedes(oldest) {
			oldest = xid
		}
	})
	return oldest
}
