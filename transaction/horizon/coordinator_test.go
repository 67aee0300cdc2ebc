package horizon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tsubamedb/tsubame/common"
	"github.com/tsubamedb/tsubame/transaction/multixact"
	"github.com/tsubamedb/tsubame/transaction/txid"
)

func TestTruncateAllAdvancesIdentifierHorizon(t *testing.T) {
	f, err := TestingNewCoordinator(t)
	assert.Nil(t, err)
	p, err := f.Registry.Acquire()
	assert.Nil(t, err)

	for i := 0; i < 3; i++ {
		xid, aerr := f.TxIDs.AllocateNewTxID(p)
		assert.Nil(t, aerr)
		assert.Nil(t, f.Clog.SetStateCommitted(xid))
	}
	p.ClearXID()

	assert.Nil(t, f.Coordinator.TruncateAll(common.InvalidDatabaseID))

	// nothing in flight: the horizon catches up to the counter
	assert.Equal(t, f.TxIDs.ReadNextTxID(), f.TxIDs.OldestTxID())
}

func TestTruncateAllHeldBackByInFlightWork(t *testing.T) {
	f, err := TestingNewCoordinator(t)
	assert.Nil(t, err)
	p, err := f.Registry.Acquire()
	assert.Nil(t, err)

	held, err := f.TxIDs.AllocateNewTxID(p)
	assert.Nil(t, err)
	for i := 0; i < 3; i++ {
		_, aerr := f.TxIDs.AllocateNewTxID(p)
		assert.Nil(t, aerr)
	}
	// the first allocation is still published: clearing the later ones does
	// not matter, the slot holds only the most recent, so re-publish it
	p.PublishXID(uint64(held))

	assert.Nil(t, f.Coordinator.TruncateAll(common.InvalidDatabaseID))
	assert.Equal(t, held, f.TxIDs.OldestTxID())
}

func TestTruncateAllHeldBackByMultiXactBound(t *testing.T) {
	f, err := TestingNewCoordinator(t)
	assert.Nil(t, err)
	p, err := f.Registry.Acquire()
	assert.Nil(t, err)
	session := multixact.NewSession()

	first, err := f.MultiXact.CreateMultiXact(p, session, []multixact.Member{{XID: 100, Status: multixact.StatusForShare}})
	assert.Nil(t, err)
	_, err = f.MultiXact.CreateMultiXact(p, session, []multixact.Member{{XID: 200, Status: multixact.StatusUpdate}})
	assert.Nil(t, err)

	// the worker's oldest-member bound pins the multixact horizon
	assert.Nil(t, f.Coordinator.TruncateAll(common.InvalidDatabaseID))
	assert.Equal(t, first, f.MultiXact.OldestMultiXactID())

	// bound cleared: the next pass advances to the counter
	p.ClearMXIDs()
	assert.Nil(t, f.Coordinator.TruncateAll(common.InvalidDatabaseID))
	assert.Equal(t, f.MultiXact.ReadNextMultiXactID(), f.MultiXact.OldestMultiXactID())
}

func TestSetOldestNeededClampedByInFlightWork(t *testing.T) {
	f, err := TestingNewCoordinator(t)
	assert.Nil(t, err)
	p, err := f.Registry.Acquire()
	assert.Nil(t, err)

	held, err := f.TxIDs.AllocateNewTxID(p)
	assert.Nil(t, err)
	for i := 0; i < 3; i++ {
		_, aerr := f.TxIDs.AllocateNewTxID(p)
		assert.Nil(t, aerr)
	}
	p.PublishXID(uint64(held))

	// the caller asks for the full counter; the published xid wins
	assert.Nil(t, f.Coordinator.SetOldestNeeded(
		f.TxIDs.ReadNextTxID(), f.MultiXact.ReadNextMultiXactID(), common.InvalidDatabaseID))
	assert.Equal(t, held, f.TxIDs.OldestTxID())
}

func TestSetOldestNeededAppliesCallerHorizon(t *testing.T) {
	f, err := TestingNewCoordinator(t)
	assert.Nil(t, err)
	p, err := f.Registry.Acquire()
	assert.Nil(t, err)

	var xids []txid.TxID
	for i := 0; i < 3; i++ {
		xid, aerr := f.TxIDs.AllocateNewTxID(p)
		assert.Nil(t, aerr)
		xids = append(xids, xid)
	}
	p.ClearXID()

	// nothing in flight: the horizon lands exactly on the caller's cutoff
	mid := xids[1]
	assert.Nil(t, f.Coordinator.SetOldestNeeded(
		mid, f.MultiXact.OldestMultiXactID(), common.InvalidDatabaseID))
	assert.Equal(t, mid, f.TxIDs.OldestTxID())

	// a cutoff behind the horizon already reached is a harmless no-op
	assert.Nil(t, f.Coordinator.SetOldestNeeded(
		xids[0], multixact.FirstMultiXactID, common.InvalidDatabaseID))
	assert.Equal(t, mid, f.TxIDs.OldestTxID())
}

func TestTruncateAllIncludesCommitTimestamps(t *testing.T) {
	f, err := TestingNewCoordinator(t)
	assert.Nil(t, err)
	p, err := f.Registry.Acquire()
	assert.Nil(t, err)
	assert.Nil(t, f.CommitTs.Activate())

	xid, err := f.TxIDs.AllocateNewTxID(p)
	assert.Nil(t, err)
	assert.Nil(t, f.CommitTs.SetCommitTimestamp(xid, 123456, 0))
	p.ClearXID()

	assert.Nil(t, f.Coordinator.TruncateAll(common.InvalidDatabaseID))

	// the timestamp window moved with the identifier horizon
	_, _, found, err := f.CommitTs.GetCommitTimestamp(xid)
	assert.Nil(t, err)
	assert.False(t, found)
}

func TestFlushAll(t *testing.T) {
	f, err := TestingNewCoordinator(t)
	assert.Nil(t, err)
	p, err := f.Registry.Acquire()
	assert.Nil(t, err)
	session := multixact.NewSession()

	xid, err := f.TxIDs.AllocateNewTxID(p)
	assert.Nil(t, err)
	assert.Nil(t, f.Clog.SetStateCommitted(xid))
	_, err = f.MultiXact.CreateMultiXact(p, session, []multixact.Member{{XID: 100, Status: multixact.StatusForShare}})
	assert.Nil(t, err)

	assert.Nil(t, f.Coordinator.FlushAll())

	exists, err := f.Clog.Cache().DoesPhysicalPageExist(0)
	assert.Nil(t, err)
	assert.True(t, exists)
	exists, err = f.MultiXact.MembersCache().DoesPhysicalPageExist(0)
	assert.Nil(t, err)
	assert.True(t, exists)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f, err := TestingNewCoordinator(t)
	assert.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.Coordinator.Run(ctx, common.InvalidDatabaseID)
	}()
	cancel()

	select {
	case rerr := <-done:
		assert.ErrorIs(t, rerr, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestOldestNeededNeverNewerThanCounter(t *testing.T) {
	f, err := TestingNewCoordinator(t)
	assert.Nil(t, err)
	p, err := f.Registry.Acquire()
	assert.Nil(t, err)

	for i := 0; i < 5; i++ {
		_, aerr := f.TxIDs.AllocateNewTxID(p)
		assert.Nil(t, aerr)
	}
	oldest := f.TxIDs.ComputeOldestNeeded()
	assert.True(t, oldest.PrecedesOrEquals(f.TxIDs.ReadNextTxID()))
	assert.True(t, oldest == txid.TxID(uint64(f.TxIDs.ReadNextTxID())-1))
}
