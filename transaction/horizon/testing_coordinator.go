package horizon

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/tsubamedb/tsubame/shmem"
	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/transaction/clog"
	"github.com/tsubamedb/tsubame/transaction/committs"
	"github.com/tsubamedb/tsubame/transaction/multixact"
	"github.com/tsubamedb/tsubame/transaction/proc"
	"github.com/tsubamedb/tsubame/transaction/txid"
	"github.com/tsubamedb/tsubame/wal"
)

// TestingFixture is the fully wired transaction log stack the coordinator
// tests drive
type TestingFixture struct {
	Coordinator *Coordinator
	TxIDs       *txid.Manager
	Clog        *clog.Manager
	CommitTs    *committs.Manager
	MultiXact   *multixact.Manager
	Registry    *proc.Registry
	WAL         *wal.MemoryManager
}

func TestingNewCoordinator(t *testing.T) (*TestingFixture, error) {
	r, err := proc.NewRegistry(8)
	if err != nil {
		return nil, errors.Wrap(err, "proc.NewRegistry failed")
	}
	w := wal.TestingNewManager(t)
	alloc := shmem.NewAllocator()
	dataDir := t.TempDir()

	tm := txid.NewManager(r, txid.FirstTxID, txid.FirstTxID)
	cl, err := clog.NewManager(dataDir, slru.BankSize, w, alloc)
	if err != nil {
		return nil, errors.Wrap(err, "clog.NewManager failed")
	}
	if err := cl.ExtendForXID(0); err != nil {
		return nil, errors.Wrap(err, "clog.ExtendForXID failed")
	}
	cts, err := committs.NewManager(dataDir, slru.BankSize, w, alloc, tm)
	if err != nil {
		return nil, errors.Wrap(err, "committs.NewManager failed")
	}
	mx, err := multixact.NewManager(dataDir, slru.BankSize, slru.BankSize, w, alloc, r)
	if err != nil {
		return nil, errors.Wrap(err, "multixact.NewManager failed")
	}
	if err := mx.Bootstrap(); err != nil {
		return nil, errors.Wrap(err, "multixact.Bootstrap failed")
	}
	tm.RegisterExtender(cl)
	tm.RegisterExtender(cts)

	return &TestingFixture{
		Coordinator: NewCoordinator(tm, cl, cts, mx),
		TxIDs:       tm,
		Clog:        cl,
		CommitTs:    cts,
		MultiXact:   mx,
		Registry:    r,
		WAL:         w,
	}, nil
}
