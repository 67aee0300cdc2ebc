package slru

import (
	"testing"

	"github.com/tsubamedb/tsubame/shmem"
	"github.com/tsubamedb/tsubame/wal"
)

// testingPrecedes is plain ordering; good enough for tests whose page numbers
// stay far from the wrap point
var testingPrecedes = PagePrecedesFunc(func(a, b PageNumber) bool {
	return a < b
})

func TestingNewManager(t *testing.T, slots int) (*Manager, error) {
	cfg := Config{
		Name:  "test log",
		Dir:   t.TempDir(),
		Slots: slots,
	}
	return NewManager(cfg, testingPrecedes, shmem.NewAllocator())
}

func TestingNewManagerWithWAL(t *testing.T, slots, lsnGroups int, w wal.Manager) (*Manager, error) {
	cfg := Config{
		Name:             "test log",
		Dir:              t.TempDir(),
		Slots:            slots,
		LSNGroupsPerPage: lsnGroups,
		WAL:              w,
	}
	return NewManager(cfg, testingPrecedes, shmem.NewAllocator())
}
