package wal

import (
	"testing"
)

func TestingNewManager(t *testing.T) *MemoryManager {
	return NewMemoryManager()
}
