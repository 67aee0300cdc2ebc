/*
Shared-state allocator.

In postgres, every subsystem reserves its shared state from a single shared
memory region during startup: the first process to ask for a named region
creates and initializes it, every later process just attaches to the existing
bytes. tsubame runs goroutines in one process, but the per-log state (slru
page arenas, registries) keeps the same contract: reserve N bytes under a
stable name, get back the same bytes every time, and be told whether this call
was the creating one so that only the creator runs initialization.
*/
package shmem

import (
	"sync"

	"github.com/pkg/errors"
)

// Allocator hands out named byte regions with first-creator-initializes semantics.
type Allocator struct {
	mu      sync.Mutex
	regions map[string][]byte
}

// NewAllocator initializes allocator
func NewAllocator() *Allocator {
	return &Allocator{
		regions: make(map[string][]byte),
	}
}

// Reserve returns the region registered under name, creating it zero-filled
// when it does not exist yet. found reports whether the region already
// existed; the caller must run its initialization only when found is false.
func (a *Allocator) Reserve(name string, size int) (region []byte, found bool, err error) {
	if size <= 0 {
		return nil, false, errors.Errorf("invalid region size %d for %s", size, name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.regions[name]; ok {
		if len(r) != size {
			return nil, true, errors.Errorf("region %s already reserved with size %d, requested %d", name, len(r), size)
		}
		return r, true, nil
	}
	r := make([]byte, size)
	a.regions[name] = r
	return r, false, nil
}
