package slru

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Truncate discards all pages preceding cutoff: buffer slots are emptied
// (after writing dirty ones and waiting out in-flight I/O) and segment files
// wholly before the cutoff are deleted. Truncations of one log must be
// externally serialized; the horizon coordinator guarantees that.
// No lock may be held on entry.
func (m *Manager) Truncate(cutoff PageNumber) error {
	// refuse to truncate past the latest page; that would discard the very
	// data being appended and can only be a caller bug
	if latest := m.LatestPage(); latest != InvalidPageNumber && m.precedes.PagePrecedes(latest, cutoff) {
		return errors.Errorf("%s: cannot truncate past latest page %d (cutoff %d)", m.cfg.Name, latest, cutoff)
	}

	for bank := 0; bank < m.nbanks; bank++ {
		lock := &m.bankLocks[bank]
		lock.Lock()
	restart:
		start := bankStart(bank)
		for slot := start; slot < start+BankSize; slot++ {
			if m.status[slot] == statusEmpty {
				continue
			}
			if !m.precedes.PagePrecedes(m.pageNumbers[slot], cutoff) {
				continue
			}
			if m.status[slot] == statusReadInProgress || m.status[slot] == statusWriteInProgress {
				m.waitForIO(slot)
				goto restart
			}
			if m.dirty[slot] {
				if err := m.writePage(slot, nil); err != nil {
					lock.Unlock()
					return errors.Wrap(err, "writePage failed")
				}
				goto restart
			}
			m.status[slot] = statusEmpty
			m.pageNumbers[slot] = InvalidPageNumber
		}
		lock.Unlock()
	}

	return m.deleteSegmentsBefore(cutoff)
}

// deleteSegmentsBefore removes every segment file whose pages all precede
// cutoff, scanning the directory rather than trusting any in-memory bound.
func (m *Manager) deleteSegmentsBefore(cutoff PageNumber) error {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return errors.Wrap(err, "os.ReadDir failed")
	}
	for _, e := range entries {
		segno, ok := ParseSegmentFileName(e.Name(), m.cfg.LongSegmentNames)
		if !ok {
			continue
		}
		lastPage := FirstPageOfSegment(segno) + PagesPerSegment - 1
		if !m.precedes.PagePrecedes(lastPage, cutoff) {
			continue
		}
		path := filepath.Join(m.cfg.Dir, e.Name())
		log.WithFields(log.Fields{"log": m.cfg.Name, "segment": e.Name()}).Info("removing obsolete segment file")
		if err := os.Remove(path); err != nil {
			return errors.Wrapf(err, "remove of %s failed", path)
		}
	}
	return nil
}

// DeleteSegment unconditionally drops one segment: its buffered pages and its
// file. Used when a whole log is being deactivated. No lock may be held.
func (m *Manager) DeleteSegment(segno SegmentNumber) error {
	first := FirstPageOfSegment(segno)
	last := first + PagesPerSegment - 1

	for bank := 0; bank < m.nbanks; bank++ {
		lock := &m.bankLocks[bank]
		lock.Lock()
	restart:
		start := bankStart(bank)
		for slot := start; slot < start+BankSize; slot++ {
			if m.status[slot] == statusEmpty {
				continue
			}
			if m.pageNumbers[slot] < first || m.pageNumbers[slot] > last {
				continue
			}
			if m.status[slot] == statusReadInProgress || m.status[slot] == statusWriteInProgress {
				m.waitForIO(slot)
				goto restart
			}
			m.status[slot] = statusEmpty
			m.pageNumbers[slot] = InvalidPageNumber
			m.dirty[slot] = false
		}
		lock.Unlock()
	}

	path := m.segmentFilePath(segno)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove of %s failed", path)
	}
	return nil
}

// DeleteAllSegments drops every segment of the log. Used when a feature is
// deactivated at runtime so that no stale window can ever be served after
// re-activation.
func (m *Manager) DeleteAllSegments() error {
	segnos, err := m.ScanSegments()
	if err != nil {
		return errors.Wrap(err, "ScanSegments failed")
	}
	for _, segno := range segnos {
		if err := m.DeleteSegment(segno); err != nil {
			return errors.Wrap(err, "DeleteSegment failed")
		}
	}
	return nil
}

// ScanSegments returns the segment numbers physically present on disk,
// in directory order.
func (m *Manager) ScanSegments() ([]SegmentNumber, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "os.ReadDir failed")
	}
	var segnos []SegmentNumber
	for _, e := range entries {
		if segno, ok := ParseSegmentFileName(e.Name(), m.cfg.LongSegmentNames); ok {
			segnos = append(segnos, segno)
		}
	}
	return segnos, nil
}

// DoesPhysicalPageExist reports whether the page's segment file exists and is
// large enough to contain it. Used to avoid redundant zero-page operations
// after a feature is re-enabled.
func (m *Manager) DoesPhysicalPageExist(pageno PageNumber) (bool, error) {
	fi, err := os.Stat(m.segmentFilePath(SegmentOfPage(pageno)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "os.Stat failed")
	}
	return fi.Size() >= offsetInSegment(pageno)+PageSize, nil
}
