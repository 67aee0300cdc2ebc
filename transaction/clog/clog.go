/*
clog bitmap

The state of each transaction is represented with 2 bits in the commit log.
A page is just a dense array of 2-bit entries, so the location of a
transaction (page, byte offset within the page, bit offset within the byte)
is pure arithmetic on the transaction id.
*/
package clog

import (
	"github.com/tsubamedb/tsubame/storage/slru"
	"github.com/tsubamedb/tsubame/transaction/txid"
)

// State is the state of each transaction, represented with 2 bits
type State int

const (
	// 0 indicates the transaction is in progress, so a freshly zeroed page
	// reads as all-in-progress
	StateInProgress State = 0x00
	StateCommitted  State = 0x01
	StateAborted    State = 0x02
	// reserved for sub-transaction commit; kept in the encoding so the
	// on-disk format does not change when sub-transactions arrive
	StateSubCommitted State = 0x03
)

const (
	// 2 bits per transaction, see State
	clogBits = 2
	// clogNumPerByte is the number of clog entries per byte
	clogNumPerByte = 4
	// ClogXactsPerPage is the number of clog entries per page
	ClogXactsPerPage = slru.PageSize * clogNumPerByte

	// clogXactsPerLSNGroup is the number of transactions sharing one
	// tracked LSN; a full per-entry array would be far too large
	clogXactsPerLSNGroup = 32
	// clogLSNGroupsPerPage is the number of tracked LSNs per page
	clogLSNGroupsPerPage = ClogXactsPerPage / clogXactsPerLSNGroup
)

// pageOf returns the page which stores the transaction's entry
func pageOf(id txid.TxID) slru.PageNumber {
	return slru.PageNumber(uint64(id) / ClogXactsPerPage)
}

// entryOf returns the entry index of the transaction within its page
func entryOf(id txid.TxID) int {
	return int(uint64(id) % ClogXactsPerPage)
}

// byteOffsetOf returns the byte offset within the page
func byteOffsetOf(id txid.TxID) int {
	return entryOf(id) / clogNumPerByte
}

// bitOffsetOf returns the bit offset within the byte, 0/2/4/6
func bitOffsetOf(id txid.TxID) int {
	return int(uint64(id)%clogNumPerByte) * clogBits
}

// lsnGroupOf returns the LSN group of the transaction within its page
func lsnGroupOf(id txid.TxID) int {
	return entryOf(id) / clogXactsPerLSNGroup
}

// getState extracts the transaction's state from its byte
func getState(data byte, id txid.TxID) State {
	bitOffset := bitOffsetOf(id)
	st := data >> (6 - bitOffset)
	mask := byte((1 << clogBits) - 1)
	return State(st & mask)
}

// getUpdatedState returns data with the transaction's bits replaced by st
func getUpdatedState(data byte, id txid.TxID, st State) byte {
	bitOffset := bitOffsetOf(id)
	mask := byte(0x03 << (6 - bitOffset))
	data = data & ^mask
	return data | (byte(st) << (6 - bitOffset))
}

// pagePrecedes compares clog pages on the circular id space. The comparison
// is anchored on a normal id within each page so the reserved ids never skew
// it.
var pagePrecedes = slru.PagePrecedesFunc(func(a, b slru.PageNumber) bool {
	xidA := txid.TxID(uint64(a)*ClogXactsPerPage) + txid.FirstTxID
	xidB := txid.TxID(uint64(b)*ClogXactsPerPage) + txid.FirstTxID
	return xidA.Precedes(xidB)
})
