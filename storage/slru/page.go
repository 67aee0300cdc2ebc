/*
Page and segment arithmetic.

Every log managed by this engine is a flat, conceptually infinite array of
fixed-size pages. Pages are grouped into segments of 32 consecutive pages and
each segment is one file on disk, named by its zero-padded uppercase hex
segment number. Two naming modes exist:
- short names: 4 to 6 hex digits, enough for logs capped at 2^24 pages
- long names: exactly 15 hex digits, for logs addressed by 64-bit identifiers

The two modes cannot be mixed within one directory: a parser for one mode
rejects names of the other, which is what keeps directory scans safe.
*/
package slru

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

const (
	// PageSize is the size of one page in bytes
	PageSize = 8192
	// PagesPerSegment is the number of consecutive pages stored in one segment file
	PagesPerSegment = 32
	// BankSize is the number of buffer slots per bank.
	// must be a power of two so that the bank of a page is a cheap mask.
	BankSize = 16
)

// PageNumber identifies one page of a log
type PageNumber int64

// InvalidPageNumber is invalid page number
const InvalidPageNumber PageNumber = -1

// SegmentNumber identifies one segment file of a log
type SegmentNumber int64

// SegmentOfPage returns the segment which contains the page
func SegmentOfPage(pageno PageNumber) SegmentNumber {
	return SegmentNumber(pageno / PagesPerSegment)
}

// FirstPageOfSegment returns the first page stored in the segment
func FirstPageOfSegment(segno SegmentNumber) PageNumber {
	return PageNumber(segno) * PagesPerSegment
}

// SegmentFileName renders the file name of a segment.
// short mode prints at least 4 hex digits and grows up to 6 as the segment
// number grows; long mode always prints exactly 15 digits so that future
// changes to PagesPerSegment cannot make old names ambiguous.
func SegmentFileName(segno SegmentNumber, longNames bool) string {
	if longNames {
		return fmt.Sprintf("%015X", int64(segno))
	}
	return fmt.Sprintf("%04X", int64(segno))
}

// ParseSegmentFileName parses a directory entry back into a segment number.
// Entries that do not match the configured naming mode are not an error;
// the caller is scanning a directory that may contain unrelated files.
func ParseSegmentFileName(name string, longNames bool) (SegmentNumber, bool) {
	if longNames {
		if len(name) != 15 {
			return 0, false
		}
	} else {
		if len(name) < 4 || len(name) > 6 {
			return 0, false
		}
	}
	for _, c := range name {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F') {
			return 0, false
		}
	}
	segno, err := strconv.ParseInt(name, 16, 64)
	if err != nil {
		return 0, false
	}
	return SegmentNumber(segno), true
}

// PagePrecedes is the per-log circular page comparison.
// Each log constructs its engine instance with its own implementation because
// the wrap point depends on the log's entries-per-page constant.
type PagePrecedes interface {
	PagePrecedes(a, b PageNumber) bool
}

// PagePrecedesFunc adapts a plain function to the PagePrecedes interface
type PagePrecedesFunc func(a, b PageNumber) bool

// PagePrecedes implements the PagePrecedes interface
func (f PagePrecedesFunc) PagePrecedes(a, b PageNumber) bool {
	return f(a, b)
}

func validateSlotCount(nslots int) error {
	if nslots < BankSize || nslots%BankSize != 0 {
		return errors.Errorf("slot count %d must be a positive multiple of the bank size %d", nslots, BankSize)
	}
	return nil
}
