/*
Commit log manager.

The commit log stores the durable 2-bit status of every transaction; tuple
visibility cannot be decided without it. It is one instance of the slru
engine: status writes land almost always on the latest page, reads cluster on
a handful of recent pages, which is exactly the access pattern the engine's
LRU and latest-page exemption are built for.

The manager also owns the log's two WAL duties:
- extension: the page-zero event for every new page is logged before the page
  becomes reachable, so replay can rebuild the extension
- truncation: the horizon coordinator logs the cutoff through this manager
  before segment files disappear
*/
package clog

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/tsubamedb/tsubame/shmem"
	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/transaction/txid"
	"github.com/tsubamedb/tsubame/wal"
)

// SubDir is the commit log directory under the data directory
const SubDir = "pg_xact"

// Manager is commit log manager
type Manager struct {
	cache *slru.Manager
	wal   wal.Manager
}

// NewManager initializes commit log manager
func NewManager(dataDir string, slots int, w wal.Manager, alloc *shmem.Allocator) (*Manager, error) {
	cache, err := slru.NewManager(slru.Config{
		Name:             "commit log",
		Dir:              filepath.Join(dataDir, SubDir),
		Slots:            slots,
		LongSegmentNames: false,
		LSNGroupsPerPage: clogLSNGroupsPerPage,
		WAL:              w,
	}, pagePrecedes, alloc)
	if err != nil {
		return nil, errors.Wrap(err, "slru.NewManager failed")
	}
	return &Manager{cache: cache, wal: w}, nil
}

// Cache exposes the underlying page cache; the horizon coordinator flushes
// and inspects it
func (m *Manager) Cache() *slru.Manager {
	return m.cache
}

// ExtendForXID zeroes the commit log page for xid when xid is the first id
// mapped to a new page; no-op otherwise. Called under the allocation lock,
// before the id counter advances. The WAL record is emitted before the page
// exists in memory so that replay always sees the extension.
func (m *Manager) ExtendForXID(id txid.TxID) error {
	if entryOf(id) != 0 {
		return nil
	}
	pageno := pageOf(id)

	if _, err := m.wal.Insert(wal.Record{
		Type: wal.RecordClogZeroPage,
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

// SetState records the transaction's state. For an asynchronously committed
// transaction lsn is the position of its commit record: the page remembers
// the largest such LSN per group, and the engine flushes WAL up to it before
// the page itself can reach disk.
func (m *Manager) SetState(id txid.TxID, st State, lsn wal.LSN) error {
	if !id.IsNormal() {
		return errors.Errorf("cannot set state of reserved transaction id %d", id)
	}
	pageno := pageOf(id)
	byteOffset := byteOffsetOf(id)

	lock := m.cache.BankLock(pageno)
	lock.Lock()
	defer lock.Unlock()

	slot, err := m.cache.ReadPage(pageno, true, slru.ReadModeNormal, uint64(id))
	if err != nil {
		return errors.Wrap(err, "ReadPage failed")
	}
	buf := m.cache.PageBuffer(slot)
	buf[byteOffset] = getUpdatedState(buf[byteOffset], id, st)
	m.cache.MarkDirty(slot)
	if lsn != wal.InvalidLSN {
		m.cache.SetPageLSN(slot, lsnGroupOf(id), lsn)
	}
	return nil
}

// SetStateCommitted records the transaction as committed
func (m *Manager) SetStateCommitted(id txid.TxID) error {
	return m.SetState(id, StateCommitted, wal.InvalidLSN)
}

// SetStateAborted records the transaction as aborted
func (m *Manager) SetStateAborted(id txid.TxID) error {
	return m.SetState(id, StateAborted, wal.InvalidLSN)
}

// GetState returns the transaction's recorded state
func (m *Manager) GetState(id txid.TxID) (State, error) {
	if !id.IsNormal() {
		// bootstrap and frozen ids are committed by definition
		if id == txid.BootstrapTxID || id == txid.FrozenTxID {
			return StateCommitted, nil
		}
		return StateInProgress, errors.Errorf("cannot get state of invalid transaction id %d", id)
	}
	pageno := pageOf(id)
	byteOffset := byteOffsetOf(id)

	slot, release, err := m.cache.ReadPageReadOnly(pageno, uint64(id))
	if err != nil {
		return StateInProgress, errors.Wrap(err, "ReadPageReadOnly failed")
	}
	st := getState(m.cache.PageBuffer(slot)[byteOffset], id)
	release()
	return st, nil
}

// Truncate discards commit log history before oldestXID. The WAL record goes
// first; once it is inserted a crash replays the same truncation.
func (m *Manager) Truncate(oldestXID txid.TxID) error {
	cutoff := pageOf(oldestXID)

	if _, err := m.wal.Insert(wal.Record{
		Type: wal.RecordClogTruncate,
		Data: wal.TruncatePayload{PageNo: int64(cutoff), OldestXID: uint64(oldestXID)}.Encode(),
	}); err != nil {
		return errors.Wrap(err, "wal.Insert failed")
	}
	if err := m.cache.Truncate(cutoff); err != nil {
		return errors.Wrap(err, "Truncate failed")
	}
	return nil
}

// RegisterRedo registers the commit log's replay handlers
func (m *Manager) RegisterRedo(d *wal.Dispatcher, tm *txid.Manager) {
	d.Register(wal.RecordClogZeroPage, func(rec wal.Record) error {
		p, err := wal.DecodeZeroPagePayload(rec.Data)
		if err != nil {
			return errors.Wrap(err, "DecodeZeroPagePayload failed")
		}
		return m.redoZeroPage(slru.PageNumber(p.PageNo), tm)
	})
	d.Register(wal.RecordClogTruncate, func(rec wal.Record) error {
		p, err := wal.DecodeTruncatePayload(rec.Data)
		if err != nil {
			return errors.Wrap(err, "DecodeTruncatePayload failed")
		}
		tm.SetOldestTxID(txid.TxID(p.OldestXID))
		return m.cache.Truncate(slru.PageNumber(p.PageNo))
	})
}

// redoZeroPage re-zeroes and immediately writes the page. Writing here keeps
// replay idempotent: a second crash before the next checkpoint replays onto
// an existing page instead of a missing one.
func (m *Manager) redoZeroPage(pageno slru.PageNumber, tm *txid.Manager) error {
	lock := m.cache.BankLock(pageno)
	lock.Lock()
	defer lock.Unlock()

	slot, err := m.cache.ZeroPage(pageno)
	if err != nil {
		return errors.Wrap(err, "ZeroPage failed")
	}
	if err := m.cache.WritePage(slot); err != nil {
		return errors.Wrap(err, "WritePage failed")
	}
	// ids covered by this page must never be handed out again
	lastXID := txid.TxID(uint64(pageno)*ClogXactsPerPage + ClogXactsPerPage - 1)
	tm.AdvanceBeyond(lastXID)
	return nil
}
