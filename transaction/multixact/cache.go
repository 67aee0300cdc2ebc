package multixact

// maxCachedSets bounds the by-members cache of one session
const maxCachedSets = 256

type cachedSet struct {
	id      MultiXactID
	members []Member
}

// Session is the per-backend multixact cache. It is not safe for concurrent
// use; each unit of work owns its own Session and drops it when done.
//
// Two lookups are served:
//   - by member set, so that creating the same set twice within a session
//     reuses the already-allocated multixact instead of burning id and
//     offset space
//   - by id, so that repeated member resolution of a multixact this session
//     created or already resolved skips the offsets and members logs
//
// The by-members side is a small move-to-front list; the by-id side is an
// unbounded map, cleared with the session.
type Session struct {
	sets []cachedSet
	byID map[MultiXactID][]Member
}

// NewSession initializes an empty session cache
func NewSession() *Session {
	return &Session{byID: make(map[MultiXactID][]Member)}
}

// lookupByMembers returns the cached multixact for the sorted member set
func (s *Session) lookupByMembers(members []Member) (MultiXactID, bool) {
	for i, c := range s.sets {
		if !sameMembers(c.members, members) {
			continue
		}
		if i != 0 {
			copy(s.sets[1:i+1], s.sets[:i])
			s.sets[0] = c
		}
		return c.id, true
	}
	return InvalidMultiXactID, false
}

// lookupByID returns the cached member set for the multixact
func (s *Session) lookupByID(id MultiXactID) ([]Member, bool) {
	members, ok := s.byID[id]
	return members, ok
}

// store records the multixact and its sorted member set in both caches
func (s *Session) store(id MultiXactID, members []Member) {
	stored := make([]Member, len(members))
	copy(stored, members)

	s.sets = append(s.sets, cachedSet{})
	copy(s.sets[1:], s.sets[:len(s.sets)-1])
	s.sets[0] = cachedSet{id: id, members: stored}
	if len(s.sets) > maxCachedSets {
		s.sets = s.sets[:maxCachedSets]
	}

	s.byID[id] = stored
}

func sameMembers(a, b []Member) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
