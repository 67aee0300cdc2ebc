package txid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrecedes(t *testing.T) {
	tests := []struct {
		name     string
		a        TxID
		b        TxID
		precedes bool
	}{
		{
			name:     "adjacent normal ids",
			a:        100,
			b:        101,
			precedes: true,
		},
		{
			name:     "equal ids",
			a:        100,
			b:        100,
			precedes: false,
		},
		{
			name: "numerically large id precedes a wrapped small one",
			// b has wrapped: the unsigned diff exceeds half the ring
			a:        1<<64 - 10,
			b:        FirstTxID + 5,
			precedes: true,
		},
		{
			name:     "wrapped small id does not precede the large one",
			a:        FirstTxID + 5,
			b:        1<<64 - 10,
			precedes: false,
		},
		{
			name:     "frozen id precedes every normal id",
			a:        FrozenTxID,
			b:        1<<64 - 10,
			precedes: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.precedes, tt.a.Precedes(tt.b))
		})
	}
}

func TestPrecedesAntiSymmetric(t *testing.T) {
	// exactly one of precedes(a, a+1) / precedes(a+1, a) holds, including
	// across the wrap point
	ids := []TxID{FirstTxID, 1000, 1<<63 - 1, 1 << 63, 1<<64 - 2}
	for _, a := range ids {
		b := a.Advance()
		assert.True(t, a.Precedes(b) != b.Precedes(a), "a=%d b=%d", a, b)
		assert.False(t, a.Precedes(a))
	}
}

func TestPrecedesNotGloballyTransitive(t *testing.T) {
	// transitivity only holds within half the ring; a chain of quarter-ring
	// steps cycles back to its start
	quarter := TxID(1) << 62
	a := FirstTxID + 100
	b := a + quarter
	c := b + quarter
	d := c + quarter
	assert.True(t, a.Precedes(b))
	assert.True(t, b.Precedes(c))
	assert.True(t, c.Precedes(d))
	assert.True(t, d.Precedes(a))
}

func TestAdvanceSkipsReservedIDs(t *testing.T) {
	assert.Equal(t, TxID(101), TxID(100).Advance())
	// wraparound lands on the first normal id, never on the reserved ones
	assert.Equal(t, FirstTxID, TxID(1<<64-1).Advance())
}

func TestFollows(t *testing.T) {
	assert.True(t, TxID(101).Follows(100))
	assert.False(t, TxID(100).Follows(101))
	assert.True(t, TxID(100).FollowsOrEquals(100))
	assert.True(t, TxID(100).PrecedesOrEquals(100))
}
