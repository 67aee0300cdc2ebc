package multixact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLookupByMembers(t *testing.T) {
	s := NewSession()
	a := []Member{{XID: 100, Status: StatusForShare}}
	b := []Member{{XID: 100, Status: StatusForShare}, {XID: 200, Status: StatusUpdate}}

	s.store(10, a)
	s.store(20, b)

	id, ok := s.lookupByMembers(a)
	assert.True(t, ok)
	assert.Equal(t, MultiXactID(10), id)

	// a set differing only in status is a different set
	_, ok = s.lookupByMembers([]Member{{XID: 100, Status: StatusUpdate}})
	assert.False(t, ok)
}

func TestSessionLookupByID(t *testing.T) {
	s := NewSession()
	members := []Member{{XID: 100, Status: StatusForShare}}
	s.store(10, members)

	got, ok := s.lookupByID(10)
	assert.True(t, ok)
	assert.Equal(t, members, got)

	_, ok = s.lookupByID(11)
	assert.False(t, ok)
}

func TestSessionStoreCopiesMembers(t *testing.T) {
	s := NewSession()
	members := []Member{{XID: 100, Status: StatusForShare}}
	s.store(10, members)

	// mutating the caller's slice must not corrupt the cache
	members[0].XID = 999
	got, ok := s.lookupByID(10)
	assert.True(t, ok)
	assert.Equal(t, []Member{{XID: 100, Status: StatusForShare}}, got)
}

func TestSessionSetCacheEviction(t *testing.T) {
	s := NewSession()
	for i := 0; i < maxCachedSets+10; i++ {
		s.store(MultiXactID(i+1), []Member{{XID: txidAt(1000 + i), Status: StatusForShare}})
	}
	assert.Len(t, s.sets, maxCachedSets)

	// the oldest entries fell off, the newest survive
	_, ok := s.lookupByMembers([]Member{{XID: 1000, Status: StatusForShare}})
	assert.False(t, ok)
	id, ok := s.lookupByMembers([]Member{{XID: txidAt(1000 + maxCachedSets + 9), Status: StatusForShare}})
	assert.True(t, ok)
	assert.Equal(t, MultiXactID(maxCachedSets+10), id)
}
