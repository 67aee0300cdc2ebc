/*
Simple LRU page cache over segment files.

This engine backs every transaction log that stores small fixed-size facts per
identifier: the commit log, the commit timestamp log and the two multixact
sub-logs. Each instance owns one directory of segment files and a fixed budget
of in-memory buffer slots caching one page each.

----
About banks

The slot array is partitioned into banks of BankSize slots. A page always maps
to one bank (pageno masked by the bank count), and eviction search, the LRU
counter and the control lock are all per bank. This keeps the victim scan O(16)
no matter how large the budget is, and keeps lock contention local: readers of
different pages in different banks never touch the same lock.

----
About locking

Each bank has one control RWMutex. Mutating any slot metadata requires it
exclusive; the optimistic read-only lookup runs under it shared. In addition
every slot has one plain mutex used purely to signal I/O in flight: the
goroutine doing the I/O holds it for the duration, anyone who must wait for
the I/O releases the bank lock, acquires-then-releases the slot lock (which
blocks until the I/O finishes), re-acquires the bank lock and re-checks all
state from scratch. Nothing may be assumed unchanged across that wait.

The exported operations document which lock the caller must hold. This mirrors
how the log managers in transaction/ drive the engine: they acquire the bank
lock, call one or more operations, copy bytes in or out of the page buffer,
and release.

----
About the latest page

Write traffic is heavily skewed towards the most recently appended page, so
the slot holding it is exempt from eviction. The engine tracks it in
latestPage, updated by ZeroPage.
*/
package slru

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/tsubamedb/tsubame/shmem"
	"github.com/tsubamedb/tsubame/wal"
)

// slotStatus is the lifecycle state of one buffer slot
type slotStatus uint8

const (
	// the slot holds no page
	statusEmpty slotStatus = iota
	// the slot holds a valid copy of its page
	statusValid
	// a read of the slot's page is in flight
	statusReadInProgress
	// a write of the slot's page is in flight
	statusWriteInProgress
)

// ReadMode selects how ReadPage treats a missing segment file
type ReadMode int

const (
	// ReadModeNormal treats a missing segment as an I/O error
	ReadModeNormal ReadMode = iota
	// ReadModeRecovery returns a zero-filled page for a missing segment.
	// during replay a page may legitimately have been truncated away before
	// the crash; its content is known-irrelevant.
	ReadModeRecovery
)

// Config is the construction-time configuration of one engine instance
type Config struct {
	// Name identifies the instance in errors, logs and shared state names
	Name string
	// Dir is the segment file directory
	Dir string
	// Slots is the buffer slot budget; must be a multiple of BankSize
	Slots int
	// LongSegmentNames selects 15-digit segment file names
	LongSegmentNames bool
	// LSNGroupsPerPage enables per-page-group LSN tracking when positive.
	// logs whose pages may carry data justified only by unflushed WAL set
	// this so that a dirty page write first flushes WAL up to the largest
	// LSN recorded for the page.
	LSNGroupsPerPage int
	// WAL is required when LSNGroupsPerPage is positive
	WAL wal.Manager
}

// Manager is one page cache instance.
// Slot metadata lives in parallel arrays indexed by slot number; page content
// lives in one contiguous arena reserved from the shared allocator, slot i
// owning the byte range [i*PageSize, (i+1)*PageSize).
type Manager struct {
	cfg      Config
	precedes PagePrecedes

	nbanks int
	arena  []byte

	// per-slot metadata, all indexed by slot number
	pageNumbers []PageNumber
	status      []slotStatus
	dirty       []bool
	lruCount    []uint64
	pageLSNs    [][]wal.LSN
	slotIO      []sync.Mutex

	// per-bank state
	bankLocks []sync.RWMutex
	bankLRU   []uint64

	// latestPage is the most recently zeroed page, exempt from eviction.
	// atomic so the read-only path can consult it under a shared lock.
	latestPage int64

	// lastIOErr records the most recent physical failure for diagnostics.
	// it is recorded at the point of failure, before slot state is repaired,
	// because a descriptive error can only be surfaced once shared state is
	// consistent again.
	errMu     sync.Mutex
	lastIOErr error
}

// NewManager initializes one engine instance.
// The page arena is reserved from the shared allocator under the instance
// name; only the first caller for a given name initializes slot state.
func NewManager(cfg Config, precedes PagePrecedes, alloc *shmem.Allocator) (*Manager, error) {
	if err := validateSlotCount(cfg.Slots); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration for %s", cfg.Name)
	}
	if cfg.LSNGroupsPerPage > 0 && cfg.WAL == nil {
		return nil, errors.Errorf("%s: LSN group tracking requires a wal manager", cfg.Name)
	}

	arena, _, err := alloc.Reserve(cfg.Name+" page arena", cfg.Slots*PageSize)
	if err != nil {
		return nil, errors.Wrap(err, "alloc.Reserve failed")
	}

	m := &Manager{
		cfg:         cfg,
		precedes:    precedes,
		nbanks:      cfg.Slots / BankSize,
		arena:       arena,
		pageNumbers: make([]PageNumber, cfg.Slots),
		status:      make([]slotStatus, cfg.Slots),
		dirty:       make([]bool, cfg.Slots),
		lruCount:    make([]uint64, cfg.Slots),
		slotIO:      make([]sync.Mutex, cfg.Slots),
		bankLocks:   make([]sync.RWMutex, cfg.Slots/BankSize),
		bankLRU:     make([]uint64, cfg.Slots/BankSize),
		latestPage:  int64(InvalidPageNumber),
	}
	for i := range m.pageNumbers {
		m.pageNumbers[i] = InvalidPageNumber
	}
	for i := range m.bankLRU {
		// the bank counter starts ahead of the slot counters (all zero) so
		// that a slot's first touch always registers; see touch
		m.bankLRU[i] = 1
	}
	if cfg.LSNGroupsPerPage > 0 {
		m.pageLSNs = make([][]wal.LSN, cfg.Slots)
		for i := range m.pageLSNs {
			m.pageLSNs[i] = make([]wal.LSN, cfg.LSNGroupsPerPage)
		}
	}
	if err := ensureDir(cfg.Dir); err != nil {
		return nil, errors.Wrap(err, "ensureDir failed")
	}
	return m, nil
}

// Name returns the instance name
func (m *Manager) Name() string {
	return m.cfg.Name
}

// Dir returns the segment directory
func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// bankOf returns the bank index of a page
func (m *Manager) bankOf(pageno PageNumber) int {
	return int(uint64(pageno) % uint64(m.nbanks))
}

// bankStart returns the first slot of a bank
func bankStart(bank int) int {
	return bank * BankSize
}

// BankLock returns the control lock of the page's bank
func (m *Manager) BankLock(pageno PageNumber) *sync.RWMutex {
	return &m.bankLocks[m.bankOf(pageno)]
}

// PageBuffer returns the page content owned by a slot.
// the caller must hold the slot's bank lock in the mode appropriate for its
// access (shared to read, exclusive to modify).
func (m *Manager) PageBuffer(slot int) []byte {
	return m.arena[slot*PageSize : (slot+1)*PageSize]
}

// MarkDirty marks the slot dirty. bank lock (exclusive) must be held.
func (m *Manager) MarkDirty(slot int) {
	m.dirty[slot] = true
}

// SetPageLSN records that WAL up to lsn justifies content in the slot's page
// group. bank lock (exclusive) must be held.
func (m *Manager) SetPageLSN(slot, group int, lsn wal.LSN) {
	if m.pageLSNs == nil {
		return
	}
	if lsn > m.pageLSNs[slot][group] {
		m.pageLSNs[slot][group] = lsn
	}
}

// LSNGroupsPerPage returns the configured group count, 0 when disabled
func (m *Manager) LSNGroupsPerPage() int {
	return m.cfg.LSNGroupsPerPage
}

// LatestPage returns the most recently zeroed page
func (m *Manager) LatestPage() PageNumber {
	return PageNumber(atomic.LoadInt64(&m.latestPage))
}

// SetLatestPage publishes the most recently zeroed page.
// exported because replay re-zeroes pages without going through ZeroPage's
// caller and must keep the marker in step.
func (m *Manager) SetLatestPage(pageno PageNumber) {
	atomic.StoreInt64(&m.latestPage, int64(pageno))
}

// lookup returns the slot holding pageno within its bank, or -1.
// bank lock (shared or exclusive) must be held.
func (m *Manager) lookup(pageno PageNumber) int {
	start := bankStart(m.bankOf(pageno))
	for slot := start; slot < start+BankSize; slot++ {
		if m.pageNumbers[slot] == pageno && m.status[slot] != statusEmpty {
			return slot
		}
	}
	return -1
}

// touch updates the slot's recency. bank lock must be held; the read-only
// path calls this under a shared lock, so the counters are atomics and a
// lost update merely degrades LRU accuracy.
func (m *Manager) touch(slot int) {
	bank := slot / BankSize
	cur := atomic.LoadUint64(&m.bankLRU[bank])
	// consecutive accesses to the same page should not burn counter values;
	// the counter only advances when a different slot is touched.
	if atomic.LoadUint64(&m.lruCount[slot]) == cur {
		return
	}
	atomic.StoreUint64(&m.lruCount[slot], atomic.AddUint64(&m.bankLRU[bank], 1))
}

// waitForIO waits until the in-flight I/O on the slot completes.
// bank lock (exclusive) must be held on entry; it is released during the
// wait and re-acquired before returning. The caller must re-check all slot
// state afterwards.
func (m *Manager) waitForIO(slot int) {
	lock := &m.bankLocks[slot/BankSize]
	lock.Unlock()
	// acquiring the slot lock blocks until the I/O holder releases it
	m.slotIO[slot].Lock()
	m.slotIO[slot].Unlock()
	lock.Lock()
}

// recordIOError stores the failure for diagnostics before slot state repair
func (m *Manager) recordIOError(err error) {
	m.errMu.Lock()
	m.lastIOErr = err
	m.errMu.Unlock()
}

// LastIOError returns the most recent physical failure, nil if none
func (m *Manager) LastIOError() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.lastIOErr
}

// ZeroPage claims a slot for pageno, fills it with zeroes, marks it dirty and
// publishes it as the latest page. The page is not written to disk here; the
// caller emits the zero-page WAL record and the page reaches disk on eviction
// or checkpoint. bank lock (exclusive) must be held.
func (m *Manager) ZeroPage(pageno PageNumber) (int, error) {
	slot, err := m.selectVictim(pageno)
	if err != nil {
		return -1, errors.Wrap(err, "selectVictim failed")
	}

	m.pageNumbers[slot] = pageno
	m.status[slot] = statusValid
	m.dirty[slot] = true
	buf := m.PageBuffer(slot)
	for i := range buf {
		buf[i] = 0
	}
	if m.pageLSNs != nil {
		for i := range m.pageLSNs[slot] {
			m.pageLSNs[slot][i] = wal.InvalidLSN
		}
	}
	m.SetLatestPage(pageno)
	m.touch(slot)
	return slot, nil
}

// ReadPage returns the slot holding pageno, reading it from disk on a miss.
// When writeOK is false the caller is guaranteed a page with no write in
// flight. errTag is the identifier the caller was resolving, attached to
// read errors for diagnostics only. bank lock (exclusive) must be held; it
// is released and re-acquired around physical I/O.
func (m *Manager) ReadPage(pageno PageNumber, writeOK bool, mode ReadMode, errTag uint64) (int, error) {
	for {
		slot := m.lookup(pageno)
		if slot >= 0 {
			if m.status[slot] == statusReadInProgress ||
				(m.status[slot] == statusWriteInProgress && !writeOK) {
				m.waitForIO(slot)
				// everything may have changed across the wait
				continue
			}
			m.touch(slot)
			return slot, nil
		}

		slot, err := m.selectVictim(pageno)
		if err != nil {
			return -1, errors.Wrap(err, "selectVictim failed")
		}
		// selectVictim may find that another goroutine brought the page in
		// while we waited for a lock
		if m.pageNumbers[slot] == pageno && m.status[slot] != statusEmpty {
			continue
		}

		m.pageNumbers[slot] = pageno
		m.status[slot] = statusReadInProgress
		m.dirty[slot] = false

		m.slotIO[slot].Lock()
		lock := &m.bankLocks[m.bankOf(pageno)]
		lock.Unlock()

		rerr := m.physicalReadPage(pageno, m.PageBuffer(slot), mode)

		lock.Lock()
		if rerr != nil {
			// repair shared state before surfacing the error
			m.recordIOError(rerr)
			m.status[slot] = statusEmpty
			m.pageNumbers[slot] = InvalidPageNumber
			m.slotIO[slot].Unlock()
			return -1, errors.Wrapf(rerr, "%s: could not access page %d (identifier %d)", m.cfg.Name, pageno, errTag)
		}
		m.status[slot] = statusValid
		m.slotIO[slot].Unlock()
		m.touch(slot)
		return slot, nil
	}
}

// ReadPageReadOnly is the optimistic fast path: it first looks the page up
// under a shared bank lock, escalating to the exclusive ReadPage on a miss.
// On success the bank lock is held in an unspecified mode; the caller reads
// the page buffer and then calls release.
func (m *Manager) ReadPageReadOnly(pageno PageNumber, errTag uint64) (slot int, release func(), err error) {
	lock := &m.bankLocks[m.bankOf(pageno)]

	lock.RLock()
	s := m.lookup(pageno)
	if s >= 0 && m.status[s] == statusValid {
		m.touch(s)
		return s, lock.RUnlock, nil
	}
	lock.RUnlock()

	lock.Lock()
	s, err = m.ReadPage(pageno, true, ReadModeNormal, errTag)
	if err != nil {
		lock.Unlock()
		return -1, nil, errors.Wrap(err, "ReadPage failed")
	}
	return s, lock.Unlock, nil
}

// WritePage flushes the slot if dirty; no-op otherwise. A single write
// attempt is made: if the page is re-dirtied concurrently the caller decides
// whether to retry, which is what the checkpoint-driven flush does. bank lock
// (exclusive) must be held; it is released and re-acquired around I/O.
func (m *Manager) WritePage(slot int) error {
	return m.writePage(slot, nil)
}

func (m *Manager) writePage(slot int, fds *fdCache) error {
	if m.status[slot] == statusWriteInProgress {
		// wait for the racing writer rather than starting a second write of
		// the same page
		m.waitForIO(slot)
	}
	if m.status[slot] != statusValid || !m.dirty[slot] {
		return nil
	}
	pageno := m.pageNumbers[slot]

	m.status[slot] = statusWriteInProgress
	m.dirty[slot] = false

	// WAL-before-data: the page may carry content justified only by WAL that
	// has not reached disk yet
	var maxLSN wal.LSN
	if m.pageLSNs != nil {
		for _, lsn := range m.pageLSNs[slot] {
			if lsn > maxLSN {
				maxLSN = lsn
			}
		}
	}

	m.slotIO[slot].Lock()
	lock := &m.bankLocks[slot/BankSize]
	lock.Unlock()

	var werr error
	if maxLSN != wal.InvalidLSN {
		werr = m.cfg.WAL.Flush(maxLSN)
		if werr != nil {
			werr = errors.Wrap(werr, "wal flush before page write failed")
		}
	}
	if werr == nil {
		werr = m.physicalWritePage(pageno, m.PageBuffer(slot), fds)
	}

	lock.Lock()
	if werr != nil {
		m.recordIOError(werr)
		// the content is still only in memory; put the dirty bit back so a
		// later flush retries
		m.dirty[slot] = true
		m.status[slot] = statusValid
		m.slotIO[slot].Unlock()
		return errors.Wrapf(werr, "%s: could not write page %d", m.cfg.Name, pageno)
	}
	m.status[slot] = statusValid
	m.slotIO[slot].Unlock()
	return nil
}

// WriteAll flushes every dirty slot across all banks; used by checkpoints and
// shutdown. File descriptors are reused across pages of the same segment so a
// full flush opens a bounded number of files. When allowRedirtied is false a
// slot found dirty again after its write is an error: the caller asserted
// nothing else can write.
func (m *Manager) WriteAll(allowRedirtied bool) error {
	fds := newFDCache(m)
	defer fds.closeAll()

	for bank := 0; bank < m.nbanks; bank++ {
		lock := &m.bankLocks[bank]
		lock.Lock()
		start := bankStart(bank)
		for slot := start; slot < start+BankSize; slot++ {
			if m.status[slot] != statusValid || !m.dirty[slot] {
				continue
			}
			if err := m.writePage(slot, fds); err != nil {
				lock.Unlock()
				return errors.Wrap(err, "writePage failed")
			}
			if !allowRedirtied && m.dirty[slot] {
				lock.Unlock()
				return errors.Errorf("%s: page %d re-dirtied during exclusive flush", m.cfg.Name, m.pageNumbers[slot])
			}
		}
		lock.Unlock()
	}
	return fds.syncAll()
}
