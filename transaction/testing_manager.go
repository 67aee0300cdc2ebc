package transaction

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/tsubamedb/tsubame/shmem"
	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/transaction/clog"
	"github.com/tsubamedb/tsubame/transaction/committs"
	"github.com/tsubamedb/tsubame/transaction/proc"
	"github.com/tsubamedb/tsubame/transaction/txid"
	"github.com/tsubamedb/tsubame/wal"
)

func TestingNewManager(t *testing.T) (*Manager, *clog.Manager, *committs.Manager, error) {
	r, err := proc.NewRegistry(8)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "proc.NewRegistry failed")
	}
	w := wal.TestingNewManager(t)
	alloc := shmem.NewAllocator()
	dataDir := t.TempDir()

	tm := txid.NewManager(r, txid.FirstTxID, txid.FirstTxID)
	cm, err := clog.NewManager(dataDir, slru.BankSize, w, alloc)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "clog.NewManager failed")
	}
	if err := cm.ExtendForXID(0); err != nil {
		return nil, nil, nil, errors.Wrap(err, "clog.ExtendForXID failed")
	}
	cts, err := committs.NewManager(dataDir, slru.BankSize, w, alloc, tm)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "committs.NewManager failed")
	}
	tm.RegisterExtender(cm)
	tm.RegisterExtender(cts)

	return NewManager(tm, cm, cts, r), cm, cts, nil
}
