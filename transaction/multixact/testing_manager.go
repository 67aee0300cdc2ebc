package multixact

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/tsubamedb/tsubame/shmem"
	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/transaction/proc"
	"github.com/tsubamedb/tsubame/wal"
)

func TestingNewManager(t *testing.T) (*Manager, *proc.Proc, *wal.MemoryManager, error) {
	r, err := proc.NewRegistry(8)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "proc.NewRegistry failed")
	}
	p, err := r.Acquire()
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "registry.Acquire failed")
	}
	w := wal.TestingNewManager(t)
	m, err := NewManager(t.TempDir(), slru.BankSize, slru.BankSize, w, shmem.NewAllocator(), r)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "NewManager failed")
	}
	if err := m.Bootstrap(); err != nil {
		return nil, nil, nil, errors.Wrap(err, "Bootstrap failed")
	}
	return m, p, w, nil
}
