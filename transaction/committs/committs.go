/*
commit timestamp entries

Each transaction gets one fixed 12-byte entry: its commit time (microseconds,
big-endian int64) followed by the replication origin that committed it
(uint32). A zero entry means "never set": commit time zero with origin zero
is not a legal recorded value, which is what lets a reader distinguish an
untouched entry on a zeroed page from real data.
*/
package committs

import (
	"encoding/binary"

	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/transaction/txid"
)

// Timestamp is a commit time in microseconds since the Unix epoch
type Timestamp int64

// InvalidTimestamp marks an entry that was never recorded
const InvalidTimestamp Timestamp = 0

// OriginID identifies the replication origin of a commit
type OriginID uint32

// InvalidOriginID is the local (no replication) origin
const InvalidOriginID OriginID = 0

const (
	// entrySize is the on-page size of one entry
	entrySize = 12
	// XactsPerPage is the number of entries per page.
	// the page tail left over by the division stays unused.
	XactsPerPage = slru.PageSize / entrySize
)

// pageOf returns the page which stores the transaction's entry
func pageOf(id txid.TxID) slru.PageNumber {
	return slru.PageNumber(uint64(id) / XactsPerPage)
}

// entryOf returns the entry index of the transaction within its page
func entryOf(id txid.TxID) int {
	return int(uint64(id) % XactsPerPage)
}

// byteOffsetOf returns the byte offset of the transaction's entry
func byteOffsetOf(id txid.TxID) int {
	return entryOf(id) * entrySize
}

// encodeEntry writes the entry into the page buffer
func encodeEntry(buf []byte, id txid.TxID, ts Timestamp, origin OriginID) {
	off := byteOffsetOf(id)
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(ts))
	binary.BigEndian.PutUint32(buf[off+8:off+12], uint32(origin))
}

// decodeEntry reads the entry from the page buffer
func decodeEntry(buf []byte, id txid.TxID) (Timestamp, OriginID) {
	off := byteOffsetOf(id)
	ts := Timestamp(binary.BigEndian.Uint64(buf[off : off+8]))
	origin := OriginID(binary.BigEndian.Uint32(buf[off+8 : off+12]))
	return ts, origin
}

// pagePrecedes compares commit timestamp pages on the circular id space
var pagePrecedes = slru.PagePrecedesFunc(func(a, b slru.PageNumber) bool {
	xidA := txid.TxID(uint64(a)*XactsPerPage) + txid.FirstTxID
	xidB := txid.TxID(uint64(b)*XactsPerPage) + txid.FirstTxID
	return xidA.Precedes(xidB)
})
