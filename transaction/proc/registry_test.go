package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRelease(t *testing.T) {
	r, err := NewRegistry(2)
	assert.Nil(t, err)

	p1, err := r.Acquire()
	assert.Nil(t, err)
	p2, err := r.Acquire()
	assert.Nil(t, err)
	assert.NotEqual(t, p1.Slot(), p2.Slot())

	_, err = r.Acquire()
	assert.NotNil(t, err)

	r.Release(p1)
	p3, err := r.Acquire()
	assert.Nil(t, err)
	assert.Equal(t, p1.Slot(), p3.Slot())
}

func TestReleaseClearsPublishedValues(t *testing.T) {
	r, err := NewRegistry(1)
	assert.Nil(t, err)

	p, err := r.Acquire()
	assert.Nil(t, err)
	p.PublishXID(100)
	p.SetOldestMemberMXID(5)
	p.SetOldestVisibleMXID(6)
	r.Release(p)

	var seen []uint64
	r.ScanXIDs(func(xid uint64) { seen = append(seen, xid) })
	r.ScanMXIDs(func(mxid uint64) { seen = append(seen, mxid) })
	assert.Empty(t, seen)
}

func TestScanSkipsUnset(t *testing.T) {
	r, err := NewRegistry(4)
	assert.Nil(t, err)

	p1, err := r.Acquire()
	assert.Nil(t, err)
	p2, err := r.Acquire()
	assert.Nil(t, err)

	p1.PublishXID(42)
	p2.SetOldestMemberMXID(7)

	var xids []uint64
	r.ScanXIDs(func(xid uint64) { xids = append(xids, xid) })
	assert.Equal(t, []uint64{42}, xids)

	var mxids []uint64
	r.ScanMXIDs(func(mxid uint64) { mxids = append(mxids, mxid) })
	assert.Equal(t, []uint64{7}, mxids)
}
