/*
WAL collaborator interface.

The general write-ahead-log writer is outside this core. The transaction logs
only need three things from it:
- insert a record and learn its position (LSN)
- flush the log up to a position (WAL-before-data ordering for page writes)
- dispatch records back to the owning subsystem during replay

The record types defined here are the full set this core emits: page-zero
events for every log extension, truncation events for every horizon advance,
and the multixact creation record that makes offset/member writes
reconstructible after a crash.
*/
package wal

// LSN is a position in the write-ahead log.
// LSNs are strictly increasing in insertion order.
type LSN uint64

// InvalidLSN is invalid log position
const InvalidLSN LSN = 0

// RecordType identifies the subsystem and replay action of a record.
type RecordType uint8

const (
	// RecordClogZeroPage is emitted when the commit log is extended with a new zeroed page
	RecordClogZeroPage RecordType = iota + 1
	// RecordClogTruncate is emitted when the commit log horizon advances
	RecordClogTruncate
	// RecordCommitTsZeroPage is emitted when the commit timestamp log is extended
	RecordCommitTsZeroPage
	// RecordCommitTsTruncate is emitted when the commit timestamp log horizon advances
	RecordCommitTsTruncate
	// RecordMultiXactZeroOffsetsPage is emitted when the multixact offsets log is extended
	RecordMultiXactZeroOffsetsPage
	// RecordMultiXactZeroMembersPage is emitted when the multixact members log is extended
	RecordMultiXactZeroMembersPage
	// RecordMultiXactCreate describes one complete multixact: id, offset and members
	RecordMultiXactCreate
	// RecordMultiXactTruncate describes one combined truncation of both multixact sub-logs
	RecordMultiXactTruncate
)

// Record is one write-ahead log record.
// Data is the encoded payload; the codecs live in records.go.
type Record struct {
	Type RecordType
	Data []byte
}

// Manager is the interface the transaction logs consume.
type Manager interface {
	// Insert appends the record and returns its position.
	Insert(rec Record) (LSN, error)
	// Flush makes every record up to and including lsn durable.
	Flush(lsn LSN) error
}
