package shmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReserve(t *testing.T) {
	a := NewAllocator()

	r1, found, err := a.Reserve("clog arena", 128)
	assert.Nil(t, err)
	assert.False(t, found)
	assert.Equal(t, 128, len(r1))

	// the creator's writes must be visible to attachers
	r1[0] = 0xFF
	r2, found, err := a.Reserve("clog arena", 128)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, byte(0xFF), r2[0])
}

func TestReserveSizeMismatch(t *testing.T) {
	a := NewAllocator()

	_, _, err := a.Reserve("arena", 128)
	assert.Nil(t, err)
	_, _, err = a.Reserve("arena", 256)
	assert.NotNil(t, err)
}

func TestReserveInvalidSize(t *testing.T) {
	a := NewAllocator()

	_, _, err := a.Reserve("arena", 0)
	assert.NotNil(t, err)
}
