package committs

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/tsubamedb/tsubame/shmem"
	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/transaction/proc"
	"github.com/tsubamedb/tsubame/transaction/txid"
	"github.com/tsubamedb/tsubame/wal"
)

func TestingNewManager(t *testing.T, next txid.TxID) (*Manager, *txid.Manager, *proc.Proc, error) {
	r, err := proc.NewRegistry(8)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "proc.NewRegistry failed")
	}
	p, err := r.Acquire()
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "registry.Acquire failed")
	}
	tm := txid.NewManager(r, next, txid.FirstTxID)
	m, err := NewManager(t.TempDir(), slru.BankSize, wal.TestingNewManager(t), shmem.NewAllocator(), tm)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "NewManager failed")
	}
	return m, tm, p, nil
}
