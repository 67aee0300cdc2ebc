/*
Process registry.

Every worker that allocates identifiers owns one registry slot for its
lifetime. The slot carries the values the worker publishes for horizon
computation:
- the identifier it most recently allocated (still possibly in flight)
- the oldest multixact whose member set its in-flight work might reference
- the oldest multixact it considers possibly live

Horizon computation scans all slots without any global lock; the per-slot
values are atomics, so a scan sees a consistent value per slot even while
workers publish concurrently. A scan may observe a slightly stale-low value,
which only makes the computed horizon more conservative, never wrong.
*/
package proc

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// InvalidValue marks an unset slot entry.
// identifier 0 is the invalid identifier in every identifier space, so 0 is
// safe as the unset marker for all three published values.
const InvalidValue uint64 = 0

// Registry is the fixed-size process registry
type Registry struct {
	mu    sync.Mutex
	inUse []bool

	// per-slot published values, accessed atomically
	xids              []uint64
	oldestMemberMXID  []uint64
	oldestVisibleMXID []uint64
}

// NewRegistry initializes registry with nprocs slots
func NewRegistry(nprocs int) (*Registry, error) {
	if nprocs <= 0 {
		return nil, errors.Errorf("invalid registry size %d", nprocs)
	}
	return &Registry{
		inUse:             make([]bool, nprocs),
		xids:              make([]uint64, nprocs),
		oldestMemberMXID:  make([]uint64, nprocs),
		oldestVisibleMXID: make([]uint64, nprocs),
	}, nil
}

// Proc is one acquired registry slot
type Proc struct {
	r    *Registry
	slot int
}

// Acquire claims a free slot
func (r *Registry) Acquire() (*Proc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, used := range r.inUse {
		if !used {
			r.inUse[i] = true
			return &Proc{r: r, slot: i}, nil
		}
	}
	return nil, errors.Errorf("all %d registry slots in use", len(r.inUse))
}

// Release returns the slot and clears everything it published
func (r *Registry) Release(p *Proc) {
	atomic.StoreUint64(&r.xids[p.slot], InvalidValue)
	atomic.StoreUint64(&r.oldestMemberMXID[p.slot], InvalidValue)
	atomic.StoreUint64(&r.oldestVisibleMXID[p.slot], InvalidValue)

	r.mu.Lock()
	r.inUse[p.slot] = false
	r.mu.Unlock()
}

// Slot returns the slot index
func (p *Proc) Slot() int {
	return p.slot
}

// PublishXID publishes the worker's current identifier
func (p *Proc) PublishXID(xid uint64) {
	atomic.StoreUint64(&p.r.xids[p.slot], xid)
}

// ClearXID withdraws the worker's published identifier
func (p *Proc) ClearXID() {
	atomic.StoreUint64(&p.r.xids[p.slot], InvalidValue)
}

// SetOldestMemberMXID publishes the oldest multixact the worker's in-flight
// work might reference. Set before the multixact is created, cleared at end
// of the unit of work.
func (p *Proc) SetOldestMemberMXID(mxid uint64) {
	atomic.StoreUint64(&p.r.oldestMemberMXID[p.slot], mxid)
}

// OldestMemberMXID returns the worker's published oldest member value
func (p *Proc) OldestMemberMXID() uint64 {
	return atomic.LoadUint64(&p.r.oldestMemberMXID[p.slot])
}

// SetOldestVisibleMXID publishes the oldest multixact the worker considers
// possibly live
func (p *Proc) SetOldestVisibleMXID(mxid uint64) {
	atomic.StoreUint64(&p.r.oldestVisibleMXID[p.slot], mxid)
}

// OldestVisibleMXID returns the worker's published oldest visible value
func (p *Proc) OldestVisibleMXID() uint64 {
	return atomic.LoadUint64(&p.r.oldestVisibleMXID[p.slot])
}

// ClearMXIDs withdraws both published multixact horizons
func (p *Proc) ClearMXIDs() {
	atomic.StoreUint64(&p.r.oldestMemberMXID[p.slot], InvalidValue)
	atomic.StoreUint64(&p.r.oldestVisibleMXID[p.slot], InvalidValue)
}

// ScanXIDs calls fn with every published identifier, skipping unset slots
func (r *Registry) ScanXIDs(fn func(xid uint64)) {
	for i := range r.xids {
		if v := atomic.LoadUint64(&r.xids[i]); v != InvalidValue {
			fn(v)
		}
	}
}

// ScanMXIDs calls fn with every published oldest-member and oldest-visible
// value, skipping unset entries
func (r *Registry) ScanMXIDs(fn func(mxid uint64)) {
	for i := range r.oldestMemberMXID {
		if v := atomic.LoadUint64(&r.oldestMemberMXID[i]); v != InvalidValue {
			fn(v)
		}
		if v := atomic.LoadUint64(&r.oldestVisibleMXID[i]); v != InvalidValue {
			fn(v)
		}
	}
}
