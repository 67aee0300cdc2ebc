package slru

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	m, err := TestingNewManager(t, BankSize)
	assert.Nil(t, err)

	// populate four segments
	npages := PagesPerSegment * 4
	for i := 0; i < npages; i++ {
		zeroTestPattern(t, m, PageNumber(i), byte(i))
	}
	assert.Nil(t, m.WriteAll(false))

	// cut off everything before the third segment
	cutoff := PageNumber(PagesPerSegment * 2)
	assert.Nil(t, m.Truncate(cutoff))

	// segments wholly before the cutoff are gone
	for _, pageno := range []PageNumber{0, PagesPerSegment - 1, PagesPerSegment, PagesPerSegment*2 - 1} {
		exists, err := m.DoesPhysicalPageExist(pageno)
		assert.Nil(t, err)
		assert.False(t, exists, "page %d should be gone", pageno)
	}
	// pages at or past the cutoff survive with their content
	for i := int(cutoff); i < npages; i++ {
		exists, err := m.DoesPhysicalPageExist(PageNumber(i))
		assert.Nil(t, err)
		assert.True(t, exists, "page %d should survive", i)
		assert.Equal(t, byte(i), readTestPattern(t, m, PageNumber(i)))
	}
}

func TestTruncateRefusesPastLatestPage(t *testing.T) {
	m, err := TestingNewManager(t, BankSize)
	assert.Nil(t, err)

	zeroTestPattern(t, m, 10, 1)
	assert.NotNil(t, m.Truncate(PageNumber(PagesPerSegment*10)))
}

func TestDeleteSegment(t *testing.T) {
	m, err := TestingNewManager(t, BankSize)
	assert.Nil(t, err)

	zeroTestPattern(t, m, 0, 1)
	zeroTestPattern(t, m, PagesPerSegment, 2)
	assert.Nil(t, m.WriteAll(false))

	assert.Nil(t, m.DeleteSegment(0))

	exists, err := m.DoesPhysicalPageExist(0)
	assert.Nil(t, err)
	assert.False(t, exists)
	exists, err = m.DoesPhysicalPageExist(PagesPerSegment)
	assert.Nil(t, err)
	assert.True(t, exists)

	// deleting a segment that is already gone is not an error
	assert.Nil(t, m.DeleteSegment(0))
}

func TestDeleteAllSegments(t *testing.T) {
	m, err := TestingNewManager(t, BankSize)
	assert.Nil(t, err)

	for i := 0; i < 3; i++ {
		zeroTestPattern(t, m, PageNumber(i*PagesPerSegment), byte(i))
	}
	assert.Nil(t, m.WriteAll(false))

	assert.Nil(t, m.DeleteAllSegments())

	segnos, err := m.ScanSegments()
	assert.Nil(t, err)
	assert.Equal(t, 0, len(segnos))
}

func TestScanSegments(t *testing.T) {
	m, err := TestingNewManager(t, BankSize)
	assert.Nil(t, err)

	zeroTestPattern(t, m, 0, 1)
	zeroTestPattern(t, m, PagesPerSegment*2, 2)
	assert.Nil(t, m.WriteAll(false))

	segnos, err := m.ScanSegments()
	assert.Nil(t, err)
	assert.ElementsMatch(t, []SegmentNumber{0, 2}, segnos)
}
