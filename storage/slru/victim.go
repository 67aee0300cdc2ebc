package slru

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// selectVictim picks the slot that will hold pageno, evicting within the
// page's bank if necessary. bank lock (exclusive) must be held; it may be
// released and re-acquired while waiting out I/O or writing a dirty victim.
//
// This deliberately loops until the bank has converged rather than making a
// single pass: after any wait or dirty-page write the world may have changed
// (the page may have been brought in by someone else, the victim re-dirtied,
// another slot freed), so the only safe continuation is a full rescan.
func (m *Manager) selectVictim(pageno PageNumber) (int, error) {
	bank := m.bankOf(pageno)
	start := bankStart(bank)

	for {
		// the page may already be resident: another goroutine can have
		// fetched it while we waited for the bank lock
		if slot := m.lookup(pageno); slot >= 0 {
			return slot, nil
		}

		latest := m.LatestPage()
		cur := atomic.LoadUint64(&m.bankLRU[bank])

		best := -1
		var bestDelta uint64
		bestIO := -1
		var bestIODelta uint64

		for slot := start; slot < start+BankSize; slot++ {
			if m.status[slot] == statusEmpty {
				return slot, nil
			}
			delta := cur - atomic.LoadUint64(&m.lruCount[slot])
			if m.status[slot] == statusReadInProgress || m.status[slot] == statusWriteInProgress {
				if bestIO < 0 || delta > bestIODelta {
					bestIO = slot
					bestIODelta = delta
				}
				continue
			}
			// the latest page will certainly be touched again soon;
			// evicting it would thrash
			if m.pageNumbers[slot] == latest {
				continue
			}
			if best < 0 || delta > bestDelta ||
				(delta == bestDelta && m.precedes.PagePrecedes(m.pageNumbers[slot], m.pageNumbers[best])) {
				best = slot
				bestDelta = delta
			}
		}

		if best < 0 {
			if bestIO < 0 {
				// every slot in the bank holds the latest page, which cannot
				// happen with BankSize > 1 unless slot accounting is broken
				return -1, errors.Errorf("%s: no evictable slot in bank %d", m.cfg.Name, bank)
			}
			// all candidates are mid-I/O; wait for the least recently used
			// one and rescan
			m.waitForIO(bestIO)
			continue
		}

		if !m.dirty[best] {
			return best, nil
		}

		// write the dirty victim out and rescan: conditions may have changed
		// while the bank lock was released
		if err := m.writePage(best, nil); err != nil {
			return -1, errors.Wrap(err, "writePage failed")
		}
	}
}
