package clog

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/tsubamedb/tsubame/shmem"
	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/wal"
)

func TestingNewManager(t *testing.T) (*Manager, *wal.MemoryManager, error) {
	w := wal.TestingNewManager(t)
	m, err := NewManager(t.TempDir(), slru.BankSize, w, shmem.NewAllocator())
	if err != nil {
		return nil, nil, errors.Wrap(err, "NewManager failed")
	}
	return m, w, nil
}
