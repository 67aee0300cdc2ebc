package wal

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ZeroPagePayload is the payload of every *ZeroPage record: the page that was
// appended to the log, so replay can re-zero it.
type ZeroPagePayload struct {
	PageNo int64
}

// Encode encodes the payload
func (p ZeroPagePayload) Encode() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(p.PageNo))
	return b
}

// DecodeZeroPagePayload decodes the payload
func DecodeZeroPagePayload(data []byte) (ZeroPagePayload, error) {
	if len(data) != 8 {
		return ZeroPagePayload{}, errors.Errorf("zero page payload must be 8 bytes, got %d", len(data))
	}
	return ZeroPagePayload{PageNo: int64(binary.BigEndian.Uint64(data))}, nil
}

// TruncatePayload is the payload of the clog/commit-ts truncate records.
// PageNo is the truncation cutoff page; OldestXID is the new oldest
// identifier, so replay can advance the in-memory horizon before truncating.
type TruncatePayload struct {
	PageNo    int64
	OldestXID uint64
}

// Encode encodes the payload
func (p TruncatePayload) Encode() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(p.PageNo))
	binary.BigEndian.PutUint64(b[8:16], p.OldestXID)
	return b
}

// DecodeTruncatePayload decodes the payload
func DecodeTruncatePayload(data []byte) (TruncatePayload, error) {
	if len(data) != 16 {
		return TruncatePayload{}, errors.Errorf("truncate payload must be 16 bytes, got %d", len(data))
	}
	return TruncatePayload{
		PageNo:    int64(binary.BigEndian.Uint64(data[0:8])),
		OldestXID: binary.BigEndian.Uint64(data[8:16]),
	}, nil
}

// MultiXactMember is one (identifier, status) member as carried in the create
// record. The multixact package converts to and from its own member type;
// keeping a flat copy here avoids an import cycle.
type MultiXactMember struct {
	XID    uint64
	Status uint8
}

// MultiXactCreatePayload describes one complete multixact. Replay re-runs the
// same offset and member writes and advances the counters past everything the
// record mentions.
type MultiXactCreatePayload struct {
	MultiID     uint64
	StartOffset uint32
	Members     []MultiXactMember
}

const multiXactMemberSize = 9

// Encode encodes the payload
func (p MultiXactCreatePayload) Encode() []byte {
	b := make([]byte, 16+len(p.Members)*multiXactMemberSize)
	binary.BigEndian.PutUint64(b[0:8], p.MultiID)
	binary.BigEndian.PutUint32(b[8:12], p.StartOffset)
	binary.BigEndian.PutUint32(b[12:16], uint32(len(p.Members)))
	off := 16
	for _, m := range p.Members {
		binary.BigEndian.PutUint64(b[off:off+8], m.XID)
		b[off+8] = m.Status
		off += multiXactMemberSize
	}
	return b
}

// DecodeMultiXactCreatePayload decodes the payload
func DecodeMultiXactCreatePayload(data []byte) (MultiXactCreatePayload, error) {
	if len(data) < 16 {
		return MultiXactCreatePayload{}, errors.Errorf("multixact create payload too short: %d", len(data))
	}
	n := int(binary.BigEndian.Uint32(data[12:16]))
	if len(data) != 16+n*multiXactMemberSize {
		return MultiXactCreatePayload{}, errors.Errorf("multixact create payload must be %d bytes for %d members, got %d",
			16+n*multiXactMemberSize, n, len(data))
	}
	p := MultiXactCreatePayload{
		MultiID:     binary.BigEndian.Uint64(data[0:8]),
		StartOffset: binary.BigEndian.Uint32(data[8:12]),
		Members:     make([]MultiXactMember, n),
	}
	off := 16
	for i := 0; i < n; i++ {
		p.Members[i] = MultiXactMember{
			XID:    binary.BigEndian.Uint64(data[off : off+8]),
			Status: data[off+8],
		}
		off += multiXactMemberSize
	}
	return p, nil
}

// MultiXactTruncatePayload describes one combined truncation of the offsets
// and members sub-logs. The offset range is in multixact ids, the member
// range in member offsets; both are half-open [start, end).
type MultiXactTruncatePayload struct {
	OldestDB        uint32
	StartTruncOff   uint64
	EndTruncOff     uint64
	StartTruncMemb  uint32
	EndTruncMemb    uint32
}

// Encode encodes the payload
func (p MultiXactTruncatePayload) Encode() []byte {
	b := make([]byte, 28)
	binary.BigEndian.PutUint32(b[0:4], p.OldestDB)
	binary.BigEndian.PutUint64(b[4:12], p.StartTruncOff)
	binary.BigEndian.PutUint64(b[12:20], p.EndTruncOff)
	binary.BigEndian.PutUint32(b[20:24], p.StartTruncMemb)
	binary.BigEndian.PutUint32(b[24:28], p.EndTruncMemb)
	return b
}

// DecodeMultiXactTruncatePayload decodes the payload
func DecodeMultiXactTruncatePayload(data []byte) (MultiXactTruncatePayload, error) {
	if len(data) != 28 {
		return MultiXactTruncatePayload{}, errors.Errorf("multixact truncate payload must be 28 bytes, got %d", len(data))
	}
	return MultiXactTruncatePayload{
		OldestDB:       binary.BigEndian.Uint32(data[0:4]),
		StartTruncOff:  binary.BigEndian.Uint64(data[4:12]),
		EndTruncOff:    binary.BigEndian.Uint64(data[12:20]),
		StartTruncMemb: binary.BigEndian.Uint32(data[20:24]),
		EndTruncMemb:   binary.BigEndian.Uint32(data[24:28]),
	}, nil
}
