/*
Commit timestamp manager.

Tracking commit timestamps is a runtime-switchable feature. The manager is a
small state machine around one slru instance:

	INACTIVE -> ACTIVE    on startup when enabled, or on the parameter-change
	                      notification during replay
	ACTIVE   -> INACTIVE  on explicit disable

The invariant on deactivation is absolute: every on-disk segment is deleted
and the horizon bounds are reset to invalid, so a later re-activation can
never serve a stale window of old timestamps. Re-activation re-derives its
bounds from the live next-id counter and starts clean from there.

While active the manager keeps the valid window [oldest, newest] in memory.
Reads outside the window return a clean not-found rather than touching pages
that may never have existed.
*/
package committs

import (
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tsubamedb/tsubame/shmem"
	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/transaction/txid"
	"github.com/tsubamedb/tsubame/wal"
)

// SubDir is the commit timestamp directory under the data directory
const SubDir = "pg_commit_ts"

// ErrDisabled is returned when commit timestamp tracking is not active
var ErrDisabled = errors.New("commit timestamp tracking is disabled")

// Manager is commit timestamp manager
type Manager struct {
	cache *slru.Manager
	wal   wal.Manager
	tm    *txid.Manager

	// guards the state machine and bounds below
	mu     sync.Mutex
	active bool
	// valid window; Invalid when no timestamp has been recorded yet
	oldestXID txid.TxID
	newestXID txid.TxID
	// most recently recorded commit
	latestXID    txid.TxID
	latestTS     Timestamp
	latestOrigin OriginID
}

// NewManager initializes commit timestamp manager in the inactive state
func NewManager(dataDir string, slots int, w wal.Manager, alloc *shmem.Allocator, tm *txid.Manager) (*Manager, error) {
	cache, err := slru.NewManager(slru.Config{
		Name:             "commit timestamp",
		Dir:              filepath.Join(dataDir, SubDir),
		Slots:            slots,
		LongSegmentNames: false,
	}, pagePrecedes, alloc)
	if err != nil {
		return nil, errors.Wrap(err, "slru.NewManager failed")
	}
	return &Manager{cache: cache, wal: w, tm: tm}, nil
}

// Cache exposes the underlying page cache
func (m *Manager) Cache() *slru.Manager {
	return m.cache
}

// Active reports whether timestamp tracking is on
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Activate turns timestamp tracking on. The valid window restarts at the live
// next-id counter; the page backing it is created if a previous incarnation
// did not leave it behind.
func (m *Manager) Activate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return nil
	}

	next := m.tm.ReadNextTxID()
	pageno := pageOf(next)

	exists, err := m.cache.DoesPhysicalPageExist(pageno)
	if err != nil {
		return errors.Wrap(err, "DoesPhysicalPageExist failed")
	}
	if !exists {
		lock := m.cache.BankLock(pageno)
		lock.Lock()
		slot, zerr := m.cache.ZeroPage(pageno)
		if zerr == nil {
			zerr = m.cache.WritePage(slot)
		}
		lock.Unlock()
		if zerr != nil {
			return errors.Wrap(zerr, "could not create current page")
		}
	} else {
		m.cache.SetLatestPage(pageno)
	}

	m.active = true
	m.oldestXID = next
	m.newestXID = txid.InvalidTxID
	m.latestXID = txid.InvalidTxID
	log.WithField("oldest", uint64(next)).Info("commit timestamp tracking activated")
	return nil
}

// Deactivate turns timestamp tracking off and removes every segment, so no
// stale window can be served after a re-activation.
func (m *Manager) Deactivate() error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return nil
	}
	m.active = false
	m.oldestXID = txid.InvalidTxID
	m.newestXID = txid.InvalidTxID
	m.latestXID = txid.InvalidTxID
	m.mu.Unlock()

	if err := m.cache.DeleteAllSegments(); err != nil {
		return errors.Wrap(err, "DeleteAllSegments failed")
	}
	log.Info("commit timestamp tracking deactivated")
	return nil
}

// ExtendForXID zeroes the page for xid when xid opens a new page; no-op when
// tracking is off. Called under the allocation lock.
func (m *Manager) ExtendForXID(id txid.TxID) error {
	if !m.Active() {
		return nil
	}
	if entryOf(id) != 0 {
		return nil
	}
	pageno := pageOf(id)

	if _, err := m.wal.Insert(wal.Record{
		Type: wal.RecordCommitTsZeroPage,
		Data: wal.ZeroPagePayload{PageNo: int64(pageno)}.Encode(),
	}); err != nil {
		return errors.Wrap(err, "wal.Insert failed")
	}

	lock := m.cache.BankLock(pageno)
	lock.Lock()
	_, err := m.cache.ZeroPage(pageno)
	lock.Unlock()
	if err != nil {
		return errors.Wrap(err, "ZeroPage failed")
	}
	return nil
}

// SetCommitTimestamp records the commit time and origin for id
func (m *Manager) SetCommitTimestamp(id txid.TxID, ts Timestamp, origin OriginID) error {
	if !id.IsNormal() {
		return errors.Errorf("cannot record commit timestamp for reserved transaction id %d", id)
	}
	if ts == InvalidTimestamp {
		return errors.New("cannot record the invalid commit timestamp")
	}
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return ErrDisabled
	}
	m.mu.Unlock()

	pageno := pageOf(id)
	lock := m.cache.BankLock(pageno)
	lock.Lock()
	slot, err := m.cache.ReadPage(pageno, true, slru.ReadModeNormal, uint64(id))
	if err != nil {
		lock.Unlock()
		return errors.Wrap(err, "ReadPage failed")
	}
	encodeEntry(m.cache.PageBuffer(slot), id, ts, origin)
	m.cache.MarkDirty(slot)
	lock.Unlock()

	m.mu.Lock()
	if !m.newestXID.IsValid() || m.newestXID.Precedes(id) {
		m.newestXID = id
	}
	if !m.latestXID.IsValid() || m.latestXID.Precedes(id) {
		m.latestXID = id
		m.latestTS = ts
		m.latestOrigin = origin
	}
	m.mu.Unlock()
	return nil
}

// GetCommitTimestamp returns the recorded commit time and origin for id.
// found is false for ids outside the valid window, for ids whose entry was
// never written, and for the reserved system ids; those are legitimate
// outcomes, not errors.
func (m *Manager) GetCommitTimestamp(id txid.TxID) (ts Timestamp, origin OriginID, found bool, err error) {
	if !id.IsValid() {
		return InvalidTimestamp, InvalidOriginID, false, errors.Errorf("invalid transaction id %d", id)
	}
	if !id.IsNormal() {
		// bootstrap and frozen ids never carry a timestamp
		return InvalidTimestamp, InvalidOriginID, false, nil
	}

	// read the bounds once; they may advance while we read the page, which
	// is fine, but comparing against a mix of old and new bounds is not
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return InvalidTimestamp, InvalidOriginID, false, ErrDisabled
	}
	oldest, newest := m.oldestXID, m.newestXID
	m.mu.Unlock()

	if !newest.IsValid() || id.Precedes(oldest) || newest.Precedes(id) {
		return InvalidTimestamp, InvalidOriginID, false, nil
	}

	slot, release, err := m.cache.ReadPageReadOnly(pageOf(id), uint64(id))
	if err != nil {
		return InvalidTimestamp, InvalidOriginID, false, errors.Wrap(err, "ReadPageReadOnly failed")
	}
	ts, origin = decodeEntry(m.cache.PageBuffer(slot), id)
	release()

	if ts == InvalidTimestamp {
		return InvalidTimestamp, InvalidOriginID, false, nil
	}
	return ts, origin, true, nil
}

// GetLatestCommitTimestamp returns the most recently recorded commit
func (m *Manager) GetLatestCommitTimestamp() (id txid.TxID, ts Timestamp, origin OriginID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return txid.InvalidTxID, InvalidTimestamp, InvalidOriginID, ErrDisabled
	}
	return m.latestXID, m.latestTS, m.latestOrigin, nil
}

// Truncate discards commit timestamp history before oldestXID
func (m *Manager) Truncate(oldestXID txid.TxID) error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	cutoff := pageOf(oldestXID)
	if _, err := m.wal.Insert(wal.Record{
		Type: wal.RecordCommitTsTruncate,
		Data: wal.TruncatePayload{PageNo: int64(cutoff), OldestXID: uint64(oldestXID)}.Encode(),
	}); err != nil {
		return errors.Wrap(err, "wal.Insert failed")
	}

	m.mu.Lock()
	if m.oldestXID.Precedes(oldestXID) {
		m.oldestXID = oldestXID
	}
	m.mu.Unlock()

	if err := m.cache.Truncate(cutoff); err != nil {
		return errors.Wrap(err, "Truncate failed")
	}
	return nil
}

// RegisterRedo registers the commit timestamp replay handlers.
// Replay may also call Activate/Deactivate when it sees the parameter-change
// notification from the primary.
func (m *Manager) RegisterRedo(d *wal.Dispatcher) {
	d.Register(wal.RecordCommitTsZeroPage, func(rec wal.Record) error {
		p, err := wal.DecodeZeroPagePayload(rec.Data)
		if err != nil {
			return errors.Wrap(err, "DecodeZeroPagePayload failed")
		}
		pageno := slru.PageNumber(p.PageNo)
		lock := m.cache.BankLock(pageno)
		lock.Lock()
		defer lock.Unlock()
		slot, err := m.cache.ZeroPage(pageno)
		if err != nil {
			return errors.Wrap(err, "ZeroPage failed")
		}
		return m.cache.WritePage(slot)
	})
	d.Register(wal.RecordCommitTsTruncate, func(rec wal.Record) error {
		p, err := wal.DecodeTruncatePayload(rec.Data)
		if err != nil {
			return errors.Wrap(err, "DecodeTruncatePayload failed")
		}
		m.mu.Lock()
		oldest := txid.TxID(p.OldestXID)
		if m.oldestXID.Precedes(oldest) {
			m.oldestXID = oldest
		}
		m.mu.Unlock()
		return m.cache.Truncate(slru.PageNumber(p.PageNo))
	})
}
