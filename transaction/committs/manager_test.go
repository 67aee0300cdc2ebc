package committs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tsubamedb/tsubame/transaction/txid"
)

func TestCommitTimestampRoundTrip(t *testing.T) {
	m, tm, p, err := TestingNewManager(t, txid.FirstTxID)
	assert.Nil(t, err)
	assert.Nil(t, m.Activate())
	tm.RegisterExtender(m)

	xid, err := tm.AllocateNewTxID(p)
	assert.Nil(t, err)

	assert.Nil(t, m.SetCommitTimestamp(xid, 1_700_000_000_000_000, 7))

	ts, origin, found, err := m.GetCommitTimestamp(xid)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, Timestamp(1_700_000_000_000_000), ts)
	assert.Equal(t, OriginID(7), origin)

	// after deactivation lookups raise the disabled error
	assert.Nil(t, m.Deactivate())
	_, _, _, err = m.GetCommitTimestamp(xid)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestGetCommitTimestampNotFound(t *testing.T) {
	m, _, _, err := TestingNewManager(t, 1000)
	assert.Nil(t, err)
	assert.Nil(t, m.Activate())

	// reserved ids: clean not-found, no error
	_, _, found, err := m.GetCommitTimestamp(txid.BootstrapTxID)
	assert.Nil(t, err)
	assert.False(t, found)

	// id before the activation bound: clean not-found
	_, _, found, err = m.GetCommitTimestamp(500)
	assert.Nil(t, err)
	assert.False(t, found)

	// invalid id: a real error
	_, _, _, err = m.GetCommitTimestamp(txid.InvalidTxID)
	assert.NotNil(t, err)
}

func TestSetCommitTimestampWhileDisabled(t *testing.T) {
	m, _, _, err := TestingNewManager(t, txid.FirstTxID)
	assert.Nil(t, err)

	err = m.SetCommitTimestamp(100, 123, 0)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestGetLatestCommitTimestamp(t *testing.T) {
	m, _, _, err := TestingNewManager(t, txid.FirstTxID)
	assert.Nil(t, err)
	assert.Nil(t, m.Activate())

	assert.Nil(t, m.SetCommitTimestamp(10, 111, 1))
	assert.Nil(t, m.SetCommitTimestamp(20, 222, 2))

	xid, ts, origin, err := m.GetLatestCommitTimestamp()
	assert.Nil(t, err)
	assert.Equal(t, txid.TxID(20), xid)
	assert.Equal(t, Timestamp(222), ts)
	assert.Equal(t, OriginID(2), origin)
}

func TestDeactivateRemovesSegments(t *testing.T) {
	m, _, _, err := TestingNewManager(t, txid.FirstTxID)
	assert.Nil(t, err)
	assert.Nil(t, m.Activate())

	assert.Nil(t, m.SetCommitTimestamp(10, 123, 0))
	assert.Nil(t, m.Cache().WriteAll(true))

	segnos, err := m.Cache().ScanSegments()
	assert.Nil(t, err)
	assert.NotEmpty(t, segnos)

	assert.Nil(t, m.Deactivate())

	segnos, err = m.Cache().ScanSegments()
	assert.Nil(t, err)
	assert.Empty(t, segnos)

	// re-activation starts a clean window: the old timestamp is gone
	assert.Nil(t, m.Activate())
	_, _, found, err := m.GetCommitTimestamp(10)
	assert.Nil(t, err)
	assert.False(t, found)
}

func TestExtendForXIDInactiveIsNoop(t *testing.T) {
	m, _, _, err := TestingNewManager(t, txid.FirstTxID)
	assert.Nil(t, err)

	assert.Nil(t, m.ExtendForXID(0))
	segnos, err := m.Cache().ScanSegments()
	assert.Nil(t, err)
	assert.Empty(t, segnos)
}
