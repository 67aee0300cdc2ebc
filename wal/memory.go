package wal

import (
	"sync"

	"github.com/pkg/errors"
)

// MemoryManager is an in-memory wal manager.
// It keeps every inserted record and tracks the flushed position, which is
// enough for this core: the transaction logs only ever insert, flush and
// replay. The real durable writer is a separate subsystem.
type MemoryManager struct {
	mu      sync.Mutex
	records []Record
	flushed LSN
}

// NewMemoryManager initializes memory wal manager
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{}
}

// Insert appends the record. The returned LSN is 1-based so that InvalidLSN
// never collides with a real position.
func (m *MemoryManager) Insert(rec Record) (LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	m.records = append(m.records, Record{Type: rec.Type, Data: data})
	return LSN(len(m.records)), nil
}

// Flush advances the flushed position up to lsn
func (m *MemoryManager) Flush(lsn LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lsn > LSN(len(m.records)) {
		return errors.Errorf("flush position %d past end of log %d", lsn, len(m.records))
	}
	if lsn > m.flushed {
		m.flushed = lsn
	}
	return nil
}

// Records returns a copy of every inserted record, in insertion order
func (m *MemoryManager) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := make([]Record, len(m.records))
	copy(recs, m.records)
	return recs
}

// FlushedLSN returns the current flushed position
func (m *MemoryManager) FlushedLSN() LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushed
}
