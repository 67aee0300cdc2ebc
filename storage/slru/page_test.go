package slru

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmentFileName(t *testing.T) {
	tests := []struct {
		name      string
		segno     SegmentNumber
		longNames bool
		expected  string
	}{
		{
			name:      "short name: segment 0",
			segno:     0,
			longNames: false,
			expected:  "0000",
		},
		{
			name:      "short name: segment 0x10000 grows to 5 digits",
			segno:     0x10000,
			longNames: false,
			expected:  "10000",
		},
		{
			name:      "short name: segment 0xABCDEF",
			segno:     0xABCDEF,
			longNames: false,
			expected:  "ABCDEF",
		},
		{
			name:      "long name: segment 1 is zero-padded to 15 digits",
			segno:     1,
			longNames: true,
			expected:  "000000000000001",
		},
		{
			name:      "long name: large segment",
			segno:     0x123456789ABCD,
			longNames: true,
			expected:  "00123456789ABCD",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SegmentFileName(tt.segno, tt.longNames)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseSegmentFileName(t *testing.T) {
	tests := []struct {
		name      string
		fileName  string
		longNames bool
		segno     SegmentNumber
		ok        bool
	}{
		{
			name:     "short name round trip",
			fileName: "10000",
			segno:    0x10000,
			ok:       true,
		},
		{
			name:     "short name: lowercase hex rejected",
			fileName: "abcd",
			ok:       false,
		},
		{
			name:     "short name: too long",
			fileName: "1234567",
			ok:       false,
		},
		{
			name:     "short name: unrelated file rejected",
			fileName: "0000.tmp",
			ok:       false,
		},
		{
			name:      "long name round trip",
			fileName:  "000000000000001",
			longNames: true,
			segno:     1,
			ok:        true,
		},
		{
			name:      "long name: short entry rejected",
			fileName:  "0001",
			longNames: true,
			ok:        false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segno, ok := ParseSegmentFileName(tt.fileName, tt.longNames)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.segno, segno)
			}
		})
	}
}

func TestSegmentOfPage(t *testing.T) {
	assert.Equal(t, SegmentNumber(0), SegmentOfPage(0))
	assert.Equal(t, SegmentNumber(0), SegmentOfPage(PagesPerSegment-1))
	assert.Equal(t, SegmentNumber(1), SegmentOfPage(PagesPerSegment))
	assert.Equal(t, PageNumber(PagesPerSegment), FirstPageOfSegment(1))
}

func TestValidateSlotCount(t *testing.T) {
	assert.Nil(t, validateSlotCount(BankSize))
	assert.Nil(t, validateSlotCount(BankSize*4))
	assert.NotNil(t, validateSlotCount(0))
	assert.NotNil(t, validateSlotCount(BankSize+1))
}
