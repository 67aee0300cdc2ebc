/*
Multixact manager.

Two slru instances back the manager: the offsets log (one 4-byte member
offset per multixact, long segment names because the id space is 64-bit) and
the members log (72-byte member groups, short segment names because the
offset space is 32-bit).

Creation protocol, under the allocation lock:
 1. extend both sub-logs so every page the new multixact touches exists
 2. reserve the id and member offset range, advance both counters
 3. emit the create WAL record
 4. write the offset entry, then the member entries

A reader that resolves a multixact concurrently with its creation determines
the member count from the next multixact's offset entry. That entry may still
be the zero sentinel (reserved in step 2, written in step 4); the reader then
blocks on the condition variable, which every creator broadcasts after its
writes are done and all page locks are released.
*/
package multixact

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tsubamedb/tsubame/common"
	"github.com/tsubamedb/tsubame/shmem"
	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/transaction/proc"
	"github.com/tsubamedb/tsubame/transaction/txid"
	"github.com/tsubamedb/tsubame/wal"
)

const (
	// OffsetsSubDir is the offsets log directory under the data directory
	OffsetsSubDir = "pg_multixact/offsets"
	// MembersSubDir is the members log directory under the data directory
	MembersSubDir = "pg_multixact/members"
)

// memberWarnThreshold is the member space usage past which every log
// extension warns that the members log is filling up
const memberWarnThreshold = 1 << 31

// Manager is multixact manager
type Manager struct {
	offsets  *slru.Manager
	members  *slru.Manager
	wal      wal.Manager
	registry *proc.Registry

	// allocation lock: guards the counters and sub-log extension
	mu           sync.Mutex
	nextMXID     MultiXactID
	nextOffset   MultiXactOffset
	oldestMXID   MultiXactID
	oldestOffset MultiXactOffset

	// serializes truncations of the two sub-logs
	truncMu sync.Mutex

	// signals that a reserved offset entry has been written
	condMu        sync.Mutex
	offsetWritten *sync.Cond
}

// NewManager initializes multixact manager
func NewManager(dataDir string, offsetSlots, memberSlots int, w wal.Manager, alloc *shmem.Allocator, r *proc.Registry) (*Manager, error) {
	offsets, err := slru.NewManager(slru.Config{
		Name:             "multixact offsets",
		Dir:              filepath.Join(dataDir, OffsetsSubDir),
		Slots:            offsetSlots,
		LongSegmentNames: true,
	}, offsetsPagePrecedes, alloc)
	if err != nil {
		return nil, errors.Wrap(err, "slru.NewManager failed for offsets")
	}
	members, err := slru.NewManager(slru.Config{
		Name:             "multixact members",
		Dir:              filepath.Join(dataDir, MembersSubDir),
		Slots:            memberSlots,
		LongSegmentNames: false,
	}, membersPagePrecedes, alloc)
	if err != nil {
		return nil, errors.Wrap(err, "slru.NewManager failed for members")
	}
	m := &Manager{
		offsets:  offsets,
		members:  members,
		wal:      w,
		registry: r,

		nextMXID: FirstMultiXactID,
		// offset 0 is reserved, the first member lands at offset 1
		nextOffset:   1,
		oldestMXID:   FirstMultiXactID,
		oldestOffset: 1,
	}
	m.offsetWritten = sync.NewCond(&m.condMu)
	return m, nil
}

// OffsetsCache exposes the offsets log page cache
func (m *Manager) OffsetsCache() *slru.Manager {
	return m.offsets
}

// MembersCache exposes the members log page cache
func (m *Manager) MembersCache() *slru.Manager {
	return m.members
}

// Bootstrap creates page 0 of both sub-logs. The first multixact and the
// first member both land mid-page (id 0 and offset 0 are reserved), so the
// regular extension paths never zero these pages themselves.
func (m *Manager) Bootstrap() error {
	for _, cache := range []*slru.Manager{m.offsets, m.members} {
		exists, err := cache.DoesPhysicalPageExist(0)
		if err != nil {
			return errors.Wrap(err, "DoesPhysicalPageExist failed")
		}
		if exists {
			continue
		}
		lock := cache.BankLock(0)
		lock.Lock()
		slot, zerr := cache.ZeroPage(0)
		if zerr == nil {
			zerr = cache.WritePage(slot)
		}
		lock.Unlock()
		if zerr != nil {
			return errors.Wrap(zerr, "could not create page 0")
		}
	}
	return nil
}

// ReadNextMultiXactID returns the value of the next-multixact counter
func (m *Manager) ReadNextMultiXactID() MultiXactID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextMXID
}

// OldestMultiXactID returns the oldest multixact whose members are still on
// disk
func (m *Manager) OldestMultiXactID() MultiXactID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oldestMXID
}

// SetOldestVisible publishes, once per unit of work, the oldest multixact the
// worker may still need to resolve. Until cleared it holds truncation back
// from everything at or after that point.
func (m *Manager) SetOldestVisible(p *proc.Proc) {
	if p.OldestVisibleMXID() != proc.InvalidValue {
		return
	}
	oldest := m.ReadNextMultiXactID()
	m.registry.ScanMXIDs(func(mxid uint64) {
		if MultiXactID(mxid).Precedes(oldest) {
			oldest = MultiXactID(mxid)
		}
	})
	p.SetOldestVisibleMXID(uint64(oldest))
}

// IsPotentiallyLive reports whether the multixact's members may still matter
// to anyone. A multixact preceding every worker's oldest-visible bound can
// only be referenced by dead tuples.
func (m *Manager) IsPotentiallyLive(p *proc.Proc, id MultiXactID) bool {
	oldestVisible := MultiXactID(p.OldestVisibleMXID())
	if oldestVisible == InvalidMultiXactID {
		oldestVisible = m.ComputeOldestNeeded()
	}
	return !id.Precedes(oldestVisible)
}

// ComputeOldestNeeded returns the oldest multixact any worker may still
// reference: the minimum over the next-id counter and every published
// registry value. The counter is read under the allocation lock; the registry
// scan is lock-free and can only see values more conservative than reality.
func (m *Manager) ComputeOldestNeeded() MultiXactID {
	oldest := m.ReadNextMultiXactID()
	m.registry.ScanMXIDs(func(mxid uint64) {
		if MultiXactID(mxid).Precedes(oldest) {
			oldest = MultiXactID(mxid)
		}
	})
	return oldest
}

// CreateMultiXact allocates a multixact for the member set and durably
// records its members. The same set created twice within one session returns
// the same multixact without touching the logs again.
func (m *Manager) CreateMultiXact(p *proc.Proc, session *Session, members []Member) (MultiXactID, error) {
	if len(members) == 0 {
		return InvalidMultiXactID, errors.New("cannot create multixact with no members")
	}
	for _, member := range members {
		if !member.XID.IsNormal() {
			return InvalidMultiXactID, errors.Errorf("cannot create multixact with reserved transaction id %d", member.XID)
		}
	}
	members = normalizeMembers(members)

	if id, ok := session.lookupByMembers(members); ok {
		return id, nil
	}

	m.mu.Lock()
	// publish the oldest-member bound before the multixact exists, so
	// truncation can never outrun a multixact we are about to reference
	if p.OldestMemberMXID() == proc.InvalidValue {
		p.SetOldestMemberMXID(uint64(m.nextMXID))
	}

	id, start, err := m.reserve(len(members))
	if err != nil {
		m.mu.Unlock()
		return InvalidMultiXactID, err
	}

	walMembers := make([]wal.MultiXactMember, len(members))
	for i, member := range members {
		walMembers[i] = wal.MultiXactMember{XID: uint64(member.XID), Status: uint8(member.Status)}
	}
	if _, err := m.wal.Insert(wal.Record{
		Type: wal.RecordMultiXactCreate,
		Data: wal.MultiXactCreatePayload{MultiID: uint64(id), StartOffset: uint32(start), Members: walMembers}.Encode(),
	}); err != nil {
		m.mu.Unlock()
		return InvalidMultiXactID, errors.Wrap(err, "wal.Insert failed")
	}

	err = m.record(id, start, members)
	m.mu.Unlock()
	if err != nil {
		// unrecoverable: the create record is already in the WAL and the
		// counters have advanced. Continuing would leave the offset entry at
		// the zero sentinel forever, stranding every reader that resolves
		// this multixact or its predecessor in waitForOffset. Crash recovery
		// replays the create record and completes the writes.
		log.WithError(err).WithField("multixact", uint64(id)).
			Fatal("could not record multixact members after WAL insert")
	}

	// wake waiters only after every page lock is released
	m.condMu.Lock()
	m.offsetWritten.Broadcast()
	m.condMu.Unlock()

	session.store(id, members)
	return id, nil
}

// reserve extends both sub-logs for a multixact with nmembers members and
// claims its id and member offset range. Caller holds the allocation lock.
func (m *Manager) reserve(nmembers int) (MultiXactID, MultiXactOffset, error) {
	id := m.nextMXID
	start := m.nextOffset

	if err := m.extendOffsets(id); err != nil {
		return InvalidMultiXactID, InvalidMultiXactOffset, err
	}
	if err := m.extendMembers(start, nmembers); err != nil {
		return InvalidMultiXactID, InvalidMultiXactOffset, err
	}

	m.nextMXID = id.Advance()
	off := start
	for i := 0; i < nmembers; i++ {
		off = advanceOffset(off)
	}
	m.nextOffset = off
	return id, start, nil
}

// extendOffsets zeroes the offsets log page for id when id opens a new page.
// id 0 is reserved, so a page is also opened by the first valid id after a
// wraparound onto it.
func (m *Manager) extendOffsets(id MultiXactID) error {
	if offsetEntryOf(id) != 0 && id != FirstMultiXactID {
		return nil
	}
	pageno := offsetPageOf(id)

	if _, err := m.wal.Insert(wal.Record{
		Type: wal.RecordMultiXactZeroOffsetsPage,
		Data: wal.ZeroPagePayload{PageNo: int64(pageno)}.Encode(),
	}); err != nil {
		return errors.Wrap(err, "wal.Insert failed")
	}

	lock := m.offsets.BankLock(pageno)
	lock.Lock()
	_, err := m.offsets.ZeroPage(pageno)
	lock.Unlock()
	if err != nil {
		return errors.Wrap(err, "ZeroPage failed")
	}
	return nil
}

// extendMembers zeroes every members log page the range [start, start+n)
// opens. Offset 0 is reserved, so a page is also opened by offset 1.
func (m *Manager) extendMembers(start MultiXactOffset, nmembers int) error {
	used := uint32(m.nextOffset - m.oldestOffset)
	if used > memberWarnThreshold {
		log.WithField("used", used).Warn("multixact members log is over half full; freeze old multixacts to reclaim space")
	}

	off := start
	for i := 0; i < nmembers; i++ {
		if uint64(off)%MembersPerPage == 0 || off == 1 {
			pageno := memberPageOf(off)
			if _, err := m.wal.Insert(wal.Record{
				Type: wal.RecordMultiXactZeroMembersPage,
				Data: wal.ZeroPagePayload{PageNo: int64(pageno)}.Encode(),
			}); err != nil {
				return errors.Wrap(err, "wal.Insert failed")
			}
			lock := m.members.BankLock(pageno)
			lock.Lock()
			_, err := m.members.ZeroPage(pageno)
			lock.Unlock()
			if err != nil {
				return errors.Wrap(err, "ZeroPage failed")
			}
		}
		off = advanceOffset(off)
	}
	return nil
}

// record writes the offset entry and then the member entries. The offset
// entry must go first: once it is non-zero, concurrent readers take the
// member count from it and proceed to the member pages.
func (m *Manager) record(id MultiXactID, start MultiXactOffset, members []Member) error {
	if err := m.writeOffsetFor(id, start); err != nil {
		return err
	}

	off := start
	for _, member := range members {
		pageno := memberPageOf(off)
		lock := m.members.BankLock(pageno)
		lock.Lock()
		slot, err := m.members.ReadPage(pageno, true, slru.ReadModeNormal, uint64(id))
		if err != nil {
			lock.Unlock()
			return errors.Wrap(err, "ReadPage failed")
		}
		writeMemberEntry(m.members.PageBuffer(slot), off, member)
		m.members.MarkDirty(slot)
		lock.Unlock()
		off = advanceOffset(off)
	}
	return nil
}

// writeOffsetFor stores the multixact's member offset in the offsets log
func (m *Manager) writeOffsetFor(id MultiXactID, value MultiXactOffset) error {
	pageno := offsetPageOf(id)
	lock := m.offsets.BankLock(pageno)
	lock.Lock()
	defer lock.Unlock()

	slot, err := m.offsets.ReadPage(pageno, true, slru.ReadModeNormal, uint64(id))
	if err != nil {
		return errors.Wrap(err, "ReadPage failed")
	}
	writeOffsetEntry(m.offsets.PageBuffer(slot), id, value)
	m.offsets.MarkDirty(slot)
	return nil
}

// readOffsetFor returns the multixact's member offset from the offsets log.
// Zero means the entry is reserved but not yet written.
func (m *Manager) readOffsetFor(id MultiXactID) (MultiXactOffset, error) {
	slot, release, err := m.offsets.ReadPageReadOnly(offsetPageOf(id), uint64(id))
	if err != nil {
		return InvalidMultiXactOffset, errors.Wrap(err, "ReadPageReadOnly failed")
	}
	value := readOffsetEntry(m.offsets.PageBuffer(slot), id)
	release()
	return value, nil
}

// waitForOffset returns the multixact's member offset, blocking while a
// concurrent creator has reserved but not yet written the entry.
func (m *Manager) waitForOffset(id MultiXactID) (MultiXactOffset, error) {
	for {
		value, err := m.readOffsetFor(id)
		if err != nil {
			return InvalidMultiXactOffset, err
		}
		if value != InvalidMultiXactOffset {
			return value, nil
		}

		// recheck under the condition mutex so the creator's broadcast
		// cannot slip between the read and the wait
		m.condMu.Lock()
		value, err = m.readOffsetFor(id)
		if err != nil || value != InvalidMultiXactOffset {
			m.condMu.Unlock()
			return value, err
		}
		m.offsetWritten.Wait()
		m.condMu.Unlock()
	}
}

// GetMultiXactMembers returns the multixact's member set
func (m *Manager) GetMultiXactMembers(id MultiXactID, session *Session) ([]Member, error) {
	if !id.IsValid() {
		return nil, errors.Errorf("invalid multixact id %d", id)
	}
	if members, ok := session.lookupByID(id); ok {
		return members, nil
	}

	// one consistent snapshot of the bounds; comparing against a mix of old
	// and new bounds could misclassify ids near either edge
	m.mu.Lock()
	oldest, next, nextOff := m.oldestMXID, m.nextMXID, m.nextOffset
	m.mu.Unlock()

	if id.Precedes(oldest) {
		return nil, errors.Errorf("multixact %d has been truncated away (oldest is %d)", id, oldest)
	}
	if !id.Precedes(next) {
		return nil, errors.Errorf("multixact %d has not been created yet (next is %d)", id, next)
	}

	start, err := m.waitForOffset(id)
	if err != nil {
		return nil, err
	}
	var end MultiXactOffset
	if id.Advance() == next {
		// id was the newest multixact at snapshot time; the counter value
		// taken with the same snapshot is its end bound
		end = nextOff
	} else {
		end, err = m.waitForOffset(id.Advance())
		if err != nil {
			return nil, err
		}
	}

	var members []Member
	for off := start; off != end; off = advanceOffset(off) {
		pageno := memberPageOf(off)
		slot, release, err := m.members.ReadPageReadOnly(pageno, uint64(id))
		if err != nil {
			return nil, errors.Wrap(err, "ReadPageReadOnly failed")
		}
		members = append(members, readMemberEntry(m.members.PageBuffer(slot), off))
		release()
	}
	if len(members) == 0 {
		return nil, errors.Errorf("multixact %d resolved to an empty member set", id)
	}

	session.store(id, members)
	return members, nil
}

// normalizeMembers sorts the members by id then status and drops duplicates,
// so that equal sets always compare and store identically
func normalizeMembers(members []Member) []Member {
	out := make([]Member, len(members))
	copy(out, members)
	sort.Slice(out, func(i, j int) bool {
		if out[i].XID != out[j].XID {
			return out[i].XID < out[j].XID
		}
		return out[i].Status < out[j].Status
	})
	dedup := out[:1]
	for _, member := range out[1:] {
		if member != dedup[len(dedup)-1] {
			dedup = append(dedup, member)
		}
	}
	return dedup
}

// Truncate discards multixacts preceding newOldest and their members.
// oldestDB names the database that constrains the horizon, for the record
// only. The members log is truncated before the offsets log: a crash between
// the two leaves unreferenced members behind, which is harmless, whereas the
// reverse order could leave offsets pointing at deleted members.
func (m *Manager) Truncate(newOldest MultiXactID, oldestDB common.DatabaseID) error {
	m.truncMu.Lock()
	defer m.truncMu.Unlock()

	m.mu.Lock()
	oldest, next, nextOff := m.oldestMXID, m.nextMXID, m.nextOffset
	m.mu.Unlock()

	if newOldest.Precedes(oldest) || next.Precedes(newOldest) {
		return errors.Errorf("multixact truncation cutoff %d outside [%d, %d]", newOldest, oldest, next)
	}

	// the on-disk state decides whether there is anything to do; the
	// in-memory bound may be ahead of the files after a replayed truncation
	earliest, found, err := m.earliestSegmentStart()
	if err != nil {
		return err
	}
	if !found || !earliest.Precedes(newOldest) {
		return nil
	}

	startMemb := m.oldestOffset
	var endMemb MultiXactOffset
	if newOldest == next {
		endMemb = nextOff
	} else {
		endMemb, err = m.readOffsetFor(newOldest)
		if err != nil || endMemb == InvalidMultiXactOffset {
			// not fatal: skip this round and retry at the next horizon pass
			log.WithFields(log.Fields{"multixact": uint64(newOldest), "err": err}).
				Warn("cannot resolve member offset of truncation cutoff; skipping multixact truncation")
			return nil
		}
	}

	if _, err := m.wal.Insert(wal.Record{
		Type: wal.RecordMultiXactTruncate,
		Data: wal.MultiXactTruncatePayload{
			OldestDB:       uint32(oldestDB),
			StartTruncOff:  uint64(earliest),
			EndTruncOff:    uint64(newOldest),
			StartTruncMemb: uint32(startMemb),
			EndTruncMemb:   uint32(endMemb),
		}.Encode(),
	}); err != nil {
		return errors.Wrap(err, "wal.Insert failed")
	}

	if err := m.members.Truncate(memberPageOf(endMemb)); err != nil {
		return errors.Wrap(err, "members truncate failed")
	}
	if err := m.offsets.Truncate(offsetPageOf(newOldest)); err != nil {
		return errors.Wrap(err, "offsets truncate failed")
	}

	m.mu.Lock()
	if m.oldestMXID.Precedes(newOldest) {
		m.oldestMXID = newOldest
		m.oldestOffset = endMemb
	}
	m.mu.Unlock()
	return nil
}

// earliestSegmentStart returns the first multixact id covered by the earliest
// offsets segment physically present
func (m *Manager) earliestSegmentStart() (MultiXactID, bool, error) {
	segnos, err := m.offsets.ScanSegments()
	if err != nil {
		return InvalidMultiXactID, false, errors.Wrap(err, "ScanSegments failed")
	}
	if len(segnos) == 0 {
		return InvalidMultiXactID, false, nil
	}
	earliest := segnos[0]
	for _, segno := range segnos[1:] {
		if offsetsPagePrecedes.PagePrecedes(slru.FirstPageOfSegment(segno), slru.FirstPageOfSegment(earliest)) {
			earliest = segno
		}
	}
	return MultiXactID(uint64(slru.FirstPageOfSegment(earliest)) * OffsetsPerPage), true, nil
}

// AdvanceBeyond moves the counters past a replayed multixact. Replay calls
// this for every create record so the ids and offsets it mentions are never
// handed out again.
func (m *Manager) AdvanceBeyond(id MultiXactID, endOffset MultiXactOffset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextMXID.PrecedesOrEquals(id) {
		m.nextMXID = id.Advance()
	}
	if int32(uint32(m.nextOffset)-uint32(endOffset)) < 0 {
		m.nextOffset = endOffset
	}
}

// RegisterRedo registers the multixact replay handlers
func (m *Manager) RegisterRedo(d *wal.Dispatcher) {
	d.Register(wal.RecordMultiXactZeroOffsetsPage, func(rec wal.Record) error {
		p, err := wal.DecodeZeroPagePayload(rec.Data)
		if err != nil {
			return errors.Wrap(err, "DecodeZeroPagePayload failed")
		}
		return redoZeroPage(m.offsets, slru.PageNumber(p.PageNo))
	})
	d.Register(wal.RecordMultiXactZeroMembersPage, func(rec wal.Record) error {
		p, err := wal.DecodeZeroPagePayload(rec.Data)
		if err != nil {
			return errors.Wrap(err, "DecodeZeroPagePayload failed")
		}
		return redoZeroPage(m.members, slru.PageNumber(p.PageNo))
	})
	d.Register(wal.RecordMultiXactCreate, func(rec wal.Record) error {
		p, err := wal.DecodeMultiXactCreatePayload(rec.Data)
		if err != nil {
			return errors.Wrap(err, "DecodeMultiXactCreatePayload failed")
		}
		id := MultiXactID(p.MultiID)
		members := make([]Member, len(p.Members))
		for i, member := range p.Members {
			members[i] = Member{XID: txid.TxID(member.XID), Status: MemberStatus(member.Status)}
		}
		if err := m.record(id, MultiXactOffset(p.StartOffset), members); err != nil {
			return err
		}
		end := MultiXactOffset(p.StartOffset)
		for range members {
			end = advanceOffset(end)
		}
		m.AdvanceBeyond(id, end)
		return nil
	})
	d.Register(wal.RecordMultiXactTruncate, func(rec wal.Record) error {
		p, err := wal.DecodeMultiXactTruncatePayload(rec.Data)
		if err != nil {
			return errors.Wrap(err, "DecodeMultiXactTruncatePayload failed")
		}
		newOldest := MultiXactID(p.EndTruncOff)
		endMemb := MultiXactOffset(p.EndTruncMemb)
		m.mu.Lock()
		if m.oldestMXID.Precedes(newOldest) {
			m.oldestMXID = newOldest
			m.oldestOffset = endMemb
		}
		if m.nextMXID.Precedes(newOldest) {
			m.nextMXID = newOldest
		}
		m.mu.Unlock()
		if err := m.members.Truncate(memberPageOf(endMemb)); err != nil {
			return errors.Wrap(err, "members truncate failed")
		}
		return m.offsets.Truncate(offsetPageOf(newOldest))
	})
}

// redoZeroPage re-zeroes and immediately writes the page, keeping replay
// idempotent across repeated crashes
func redoZeroPage(cache *slru.Manager, pageno slru.PageNumber) error {
	lock := cache.BankLock(pageno)
	lock.Lock()
	defer lock.Unlock()

	slot, err := cache.ZeroPage(pageno)
	if err != nil {
		return errors.Wrap(err, "ZeroPage failed")
	}
	return cache.WritePage(slot)
}
