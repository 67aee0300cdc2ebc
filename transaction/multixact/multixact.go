/*
multixact id, offset and member layout

A multixact represents a set of (transaction id, status) members as one value
that fits where a single transaction id would go; several concurrent lock
holders on one tuple become one multixact. The member list lives out of line:

	multixact id -> offsets log -> starting member offset
	member offset range [start, next multi's start) -> members log entries

The offsets log stores one 4-byte member offset per multixact. The members
log packs members into 72-byte groups: 8 flag bytes (one status byte per
member) followed by 8 transaction ids. Groups pack evenly into a page; the
few bytes left over stay unused.

Member offset 0 is reserved and never assigned. A zero offset read from the
offsets log therefore always means "reserved but not yet written", which is
the signal the resolution path relies on to wait out a concurrent creator.
The reserved offset also means a member range that wraps the 32-bit offset
space must skip slot 0 rather than read it as a member.
*/
package multixact

import (
	"encoding/binary"

	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/transaction/txid"
)

// MultiXactID is multixact id.
// like transaction ids the space is circular and compared via Precedes.
type MultiXactID uint64

const (
	// invalid multixact id
	InvalidMultiXactID MultiXactID = 0
	// first multixact id allocated by the manager
	FirstMultiXactID MultiXactID = 1
)

// IsValid checks whether the multixact id is valid
func (id MultiXactID) IsValid() bool {
	return id != InvalidMultiXactID
}

// Precedes checks whether id logically precedes compared on the circular space
func (id MultiXactID) Precedes(compared MultiXactID) bool {
	diff := id - compared
	return int64(diff) < 0
}

// PrecedesOrEquals checks whether id precedes or equals compared
func (id MultiXactID) PrecedesOrEquals(compared MultiXactID) bool {
	diff := id - compared
	return int64(diff) <= 0
}

// Advance advances the multixact id, skipping the invalid id on wraparound
func (id MultiXactID) Advance() MultiXactID {
	id++
	if !id.IsValid() {
		return FirstMultiXactID
	}
	return id
}

// MultiXactOffset is a position in the members log
type MultiXactOffset uint32

// InvalidMultiXactOffset is the reserved not-yet-written sentinel
const InvalidMultiXactOffset MultiXactOffset = 0

// advanceOffset advances the member offset, skipping the reserved offset 0
func advanceOffset(off MultiXactOffset) MultiXactOffset {
	off++
	if off == InvalidMultiXactOffset {
		return 1
	}
	return off
}

// MemberStatus is the lock status a member holds
type MemberStatus uint8

const (
	StatusForKeyShare MemberStatus = iota
	StatusForShare
	StatusForNoKeyUpdate
	StatusForUpdate
	StatusNoKeyUpdate
	StatusUpdate
)

// Member is one (transaction id, status) pair of a multixact
type Member struct {
	XID    txid.TxID
	Status MemberStatus
}

const (
	// offsetEntrySize is the on-page size of one offsets log entry
	offsetEntrySize = 4
	// OffsetsPerPage is the number of offsets log entries per page
	OffsetsPerPage = slru.PageSize / offsetEntrySize

	// MembersPerGroup is the number of members packed into one group
	MembersPerGroup = 8
	// flagBytesPerGroup is the packed status bytes heading each group
	flagBytesPerGroup = 8
	// groupSize is the on-page size of one member group
	groupSize = flagBytesPerGroup + MembersPerGroup*8
	// GroupsPerPage is the number of whole groups per page
	GroupsPerPage = slru.PageSize / groupSize
	// MembersPerPage is the number of members per page
	MembersPerPage = GroupsPerPage * MembersPerGroup
)

// offsetPageOf returns the offsets log page which stores the multixact's entry
func offsetPageOf(id MultiXactID) slru.PageNumber {
	return slru.PageNumber(uint64(id) / OffsetsPerPage)
}

// offsetEntryOf returns the entry index within the offsets log page
func offsetEntryOf(id MultiXactID) int {
	return int(uint64(id) % OffsetsPerPage)
}

// readOffsetEntry decodes the multixact's member offset from its page
func readOffsetEntry(buf []byte, id MultiXactID) MultiXactOffset {
	off := offsetEntryOf(id) * offsetEntrySize
	return MultiXactOffset(binary.BigEndian.Uint32(buf[off : off+4]))
}

// writeOffsetEntry encodes the multixact's member offset into its page
func writeOffsetEntry(buf []byte, id MultiXactID, value MultiXactOffset) {
	off := offsetEntryOf(id) * offsetEntrySize
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(value))
}

// memberPageOf returns the members log page which stores the member offset
func memberPageOf(off MultiXactOffset) slru.PageNumber {
	return slru.PageNumber(uint64(off) / MembersPerPage)
}

// memberFlagByteOf returns the byte offset of the member's status within its page
func memberFlagByteOf(off MultiXactOffset) int {
	inPage := int(uint64(off) % MembersPerPage)
	group := inPage / MembersPerGroup
	inGroup := inPage % MembersPerGroup
	return group*groupSize + inGroup
}

// memberXIDByteOf returns the byte offset of the member's transaction id
// within its page
func memberXIDByteOf(off MultiXactOffset) int {
	inPage := int(uint64(off) % MembersPerPage)
	group := inPage / MembersPerGroup
	inGroup := inPage % MembersPerGroup
	return group*groupSize + flagBytesPerGroup + inGroup*8
}

// readMemberEntry decodes the member at the offset from its page
func readMemberEntry(buf []byte, off MultiXactOffset) Member {
	xid := txid.TxID(binary.BigEndian.Uint64(buf[memberXIDByteOf(off) : memberXIDByteOf(off)+8]))
	return Member{
		XID:    xid,
		Status: MemberStatus(buf[memberFlagByteOf(off)]),
	}
}

// writeMemberEntry encodes the member at the offset into its page
func writeMemberEntry(buf []byte, off MultiXactOffset, m Member) {
	buf[memberFlagByteOf(off)] = byte(m.Status)
	binary.BigEndian.PutUint64(buf[memberXIDByteOf(off):memberXIDByteOf(off)+8], uint64(m.XID))
}

// offsetsPagePrecedes compares offsets log pages on the circular multixact space
var offsetsPagePrecedes = slru.PagePrecedesFunc(func(a, b slru.PageNumber) bool {
	idA := MultiXactID(uint64(a)*OffsetsPerPage) + FirstMultiXactID
	idB := MultiXactID(uint64(b)*OffsetsPerPage) + FirstMultiXactID
	return idA.Precedes(idB)
})

// membersPagePrecedes compares members log pages on the circular offset space
var membersPagePrecedes = slru.PagePrecedesFunc(func(a, b slru.PageNumber) bool {
	offA := uint32(uint64(a)*MembersPerPage) + 1
	offB := uint32(uint64(b)*MembersPerPage) + 1
	return int32(offA-offB) < 0
})
