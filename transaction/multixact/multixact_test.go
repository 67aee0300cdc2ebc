package multixact

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/transaction/txid"
)

func TestGroupLayout(t *testing.T) {
	assert.Equal(t, 113, GroupsPerPage)
	assert.Equal(t, 904, MembersPerPage)
	// whole groups must fit; the remainder of the page stays unused
	assert.LessOrEqual(t, GroupsPerPage*groupSize, slru.PageSize)
}

func TestMemberEntryRoundTrip(t *testing.T) {
	buf := make([]byte, slru.PageSize)

	tests := []struct {
		name   string
		off    MultiXactOffset
		member Member
	}{
		{
			name:   "first assignable offset",
			off:    1,
			member: Member{XID: 100, Status: StatusForShare},
		},
		{
			name:   "last member of the first group",
			off:    MembersPerGroup - 1,
			member: Member{XID: 200, Status: StatusUpdate},
		},
		{
			name:   "first member of the second group",
			off:    MembersPerGroup,
			member: Member{XID: 300, Status: StatusForKeyShare},
		},
		{
			name:   "last member of the page",
			off:    MembersPerPage - 1,
			member: Member{XID: 400, Status: StatusNoKeyUpdate},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeMemberEntry(buf, tt.off, tt.member)
			assert.Equal(t, tt.member, readMemberEntry(buf, tt.off))
		})
	}
}

func TestMemberEntriesDoNotOverlap(t *testing.T) {
	buf := make([]byte, slru.PageSize)

	for off := MultiXactOffset(1); off < 32; off++ {
		writeMemberEntry(buf, off, Member{XID: txid.TxID(1000 + off), Status: MemberStatus(off % 6)})
	}
	for off := MultiXactOffset(1); off < 32; off++ {
		m := readMemberEntry(buf, off)
		assert.Equal(t, txid.TxID(1000+off), m.XID)
		assert.Equal(t, MemberStatus(off%6), m.Status)
	}
}

func TestOffsetEntryRoundTrip(t *testing.T) {
	buf := make([]byte, slru.PageSize)

	writeOffsetEntry(buf, 1, 42)
	writeOffsetEntry(buf, 2, 99)

	assert.Equal(t, MultiXactOffset(42), readOffsetEntry(buf, 1))
	assert.Equal(t, MultiXactOffset(99), readOffsetEntry(buf, 2))
	// untouched neighbor reads as the reserved sentinel
	assert.Equal(t, InvalidMultiXactOffset, readOffsetEntry(buf, 3))
}

func TestAdvanceSkipsReservedValues(t *testing.T) {
	assert.Equal(t, FirstMultiXactID, MultiXactID(^uint64(0)).Advance())
	assert.Equal(t, MultiXactOffset(1), advanceOffset(MultiXactOffset(^uint32(0))))
}

func TestMultiXactIDPrecedes(t *testing.T) {
	assert.True(t, MultiXactID(1).Precedes(2))
	assert.False(t, MultiXactID(2).Precedes(2))
	assert.True(t, MultiXactID(2).PrecedesOrEquals(2))
	// circular comparison near the wrap point
	high := MultiXactID(^uint64(0) - 10)
	assert.True(t, high.Precedes(high+100))
	assert.False(t, (high + 100).Precedes(high))
}
