package slru

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tsubamedb/tsubame/wal"
)

// zeroTestPattern creates a page via the engine and stamps a recognizable
// byte into it
func zeroTestPattern(t *testing.T, m *Manager, pageno PageNumber, b byte) {
	lock := m.BankLock(pageno)
	lock.Lock()
	slot, err := m.ZeroPage(pageno)
	assert.Nil(t, err)
	m.PageBuffer(slot)[0] = b
	lock.Unlock()
}

// writeTestPattern stamps a recognizable byte into an existing page
func writeTestPattern(t *testing.T, m *Manager, pageno PageNumber, b byte) {
	lock := m.BankLock(pageno)
	lock.Lock()
	slot, err := m.ReadPage(pageno, true, ReadModeNormal, 0)
	assert.Nil(t, err)
	m.PageBuffer(slot)[0] = b
	m.MarkDirty(slot)
	lock.Unlock()
}

func readTestPattern(t *testing.T, m *Manager, pageno PageNumber) byte {
	slot, release, err := m.ReadPageReadOnly(pageno, 0)
	assert.Nil(t, err)
	b := m.PageBuffer(slot)[0]
	release()
	return b
}

func TestZeroPageReadBack(t *testing.T) {
	m, err := TestingNewManager(t, BankSize)
	assert.Nil(t, err)

	lock := m.BankLock(3)
	lock.Lock()
	slot, err := m.ZeroPage(3)
	assert.Nil(t, err)
	buf := m.PageBuffer(slot)
	for i := range buf {
		assert.Equal(t, byte(0), buf[i])
	}
	buf[10] = 0xAB
	lock.Unlock()

	assert.Equal(t, PageNumber(3), m.LatestPage())
	assert.Equal(t, byte(0), readTestPattern(t, m, 3))

	lock.Lock()
	got, err := m.ReadPage(3, false, ReadModeNormal, 0)
	assert.Nil(t, err)
	assert.Equal(t, slot, got)
	assert.Equal(t, byte(0xAB), m.PageBuffer(got)[10])
	lock.Unlock()
}

func TestEvictionWritesDirtyVictim(t *testing.T) {
	m, err := TestingNewManager(t, BankSize)
	assert.Nil(t, err)

	// fill well past the bank capacity; every page lands in the same bank
	// because a single-bank manager has nbanks == 1
	n := BankSize * 3
	for i := 0; i < n; i++ {
		pageno := PageNumber(i)
		lock := m.BankLock(pageno)
		lock.Lock()
		_, err := m.ZeroPage(pageno)
		assert.Nil(t, err)
		slot, err := m.ReadPage(pageno, true, ReadModeNormal, 0)
		assert.Nil(t, err)
		m.PageBuffer(slot)[0] = byte(i)
		m.MarkDirty(slot)
		lock.Unlock()
	}

	// every page must read back its own content even though most were
	// evicted through dirty-victim writes
	for i := 0; i < n; i++ {
		assert.Equal(t, byte(i), readTestPattern(t, m, PageNumber(i)))
	}
}

func TestEvictionNeverTouchesLatestPage(t *testing.T) {
	m, err := TestingNewManager(t, BankSize)
	assert.Nil(t, err)

	// materialize churn pages on disk first
	churn := BankSize * 4
	for i := 0; i < churn; i++ {
		zeroTestPattern(t, m, PageNumber(i), byte(i))
	}
	assert.Nil(t, m.WriteAll(false))

	latest := PageNumber(100)
	lock := m.BankLock(latest)
	lock.Lock()
	latestSlot, err := m.ZeroPage(latest)
	assert.Nil(t, err)
	lock.Unlock()

	// re-read far more pages than the bank holds, forcing evictions
	for i := 0; i < churn; i++ {
		assert.Equal(t, byte(i), readTestPattern(t, m, PageNumber(i)))
	}

	// the latest page's slot must still hold it
	lock.Lock()
	slot, err := m.ReadPage(latest, false, ReadModeNormal, 0)
	assert.Nil(t, err)
	assert.Equal(t, latestSlot, slot)
	lock.Unlock()
}

func TestEvictionPrefersLeastRecentlyUsed(t *testing.T) {
	m, err := TestingNewManager(t, BankSize)
	assert.Nil(t, err)

	for i := 0; i < BankSize; i++ {
		zeroTestPattern(t, m, PageNumber(i), byte(i))
	}
	assert.Nil(t, m.WriteAll(false))

	// re-touch page 0; page 1 is now the least recently used evictable slot
	// (the latest page, BankSize-1, is exempt)
	for i := 0; i < 3; i++ {
		assert.Equal(t, byte(0), readTestPattern(t, m, 0))
	}

	zeroTestPattern(t, m, PageNumber(BankSize), byte(BankSize))

	lock := m.BankLock(0)
	lock.Lock()
	assert.True(t, m.lookup(0) >= 0)
	assert.True(t, m.lookup(1) < 0)
	// accesses must advance the recency counters past their initial values
	assert.True(t, m.bankLRU[0] > 1)
	assert.True(t, m.lruCount[m.lookup(0)] > 0)
	lock.Unlock()
}

func TestReadPageMissingSegment(t *testing.T) {
	m, err := TestingNewManager(t, BankSize)
	assert.Nil(t, err)

	lock := m.BankLock(7)
	lock.Lock()
	_, err = m.ReadPage(7, false, ReadModeNormal, 42)
	lock.Unlock()
	assert.NotNil(t, err)
	assert.NotNil(t, m.LastIOError())

	// recovery-tolerant reads yield a zero page instead
	lock.Lock()
	slot, err := m.ReadPage(7, false, ReadModeRecovery, 42)
	assert.Nil(t, err)
	assert.Equal(t, byte(0), m.PageBuffer(slot)[0])
	lock.Unlock()
}

func TestWritePageClearsDirty(t *testing.T) {
	m, err := TestingNewManager(t, BankSize)
	assert.Nil(t, err)

	lock := m.BankLock(0)
	lock.Lock()
	slot, err := m.ZeroPage(0)
	assert.Nil(t, err)
	m.PageBuffer(slot)[0] = 0x55
	assert.Nil(t, m.WritePage(slot))
	// no-op on a clean slot
	assert.Nil(t, m.WritePage(slot))
	lock.Unlock()

	exists, err := m.DoesPhysicalPageExist(0)
	assert.Nil(t, err)
	assert.True(t, exists)
}

func TestWriteAll(t *testing.T) {
	m, err := TestingNewManager(t, BankSize*2)
	assert.Nil(t, err)

	// dirty pages spread across many segments to exercise fd batching
	for i := 0; i < BankSize*2; i++ {
		pageno := PageNumber(i * PagesPerSegment)
		lock := m.BankLock(pageno)
		lock.Lock()
		slot, err := m.ZeroPage(pageno)
		assert.Nil(t, err)
		m.PageBuffer(slot)[0] = byte(i)
		lock.Unlock()
	}

	assert.Nil(t, m.WriteAll(false))

	for i := 0; i < BankSize*2; i++ {
		pageno := PageNumber(i * PagesPerSegment)
		exists, err := m.DoesPhysicalPageExist(pageno)
		assert.Nil(t, err)
		assert.True(t, exists)
	}
}

func TestWriteAllFlushesWALFirst(t *testing.T) {
	w := wal.TestingNewManager(t)
	m, err := TestingNewManagerWithWAL(t, BankSize, 4, w)
	assert.Nil(t, err)

	lsn, err := w.Insert(wal.Record{Type: wal.RecordCommitTsZeroPage, Data: wal.ZeroPagePayload{PageNo: 0}.Encode()})
	assert.Nil(t, err)

	lock := m.BankLock(0)
	lock.Lock()
	slot, err := m.ZeroPage(0)
	assert.Nil(t, err)
	m.PageBuffer(slot)[0] = 1
	m.SetPageLSN(slot, 0, lsn)
	lock.Unlock()

	assert.Nil(t, m.WriteAll(false))
	// the page write must have pushed the WAL flush point past the record
	assert.Equal(t, lsn, w.FlushedLSN())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	m, err := TestingNewManager(t, BankSize)
	assert.Nil(t, err)

	npages := BankSize * 2
	for i := 0; i < npages; i++ {
		zeroTestPattern(t, m, PageNumber(i), byte(i))
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				pageno := PageNumber((g*7 + i) % npages)
				if g%2 == 0 {
					b := readTestPattern(t, m, pageno)
					assert.Equal(t, byte(pageno), b)
				} else {
					lock := m.BankLock(pageno)
					lock.Lock()
					slot, err := m.ReadPage(pageno, true, ReadModeNormal, 0)
					assert.Nil(t, err)
					assert.Equal(t, byte(pageno), m.PageBuffer(slot)[0])
					m.MarkDirty(slot)
					lock.Unlock()
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Nil(t, m.WriteAll(true))
	for i := 0; i < npages; i++ {
		assert.Equal(t, byte(i), readTestPattern(t, m, PageNumber(i)))
	}
}
