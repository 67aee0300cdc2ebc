/*
Physical segment file I/O.

Each segment file is a flat concatenation of pages, no header. A page write
may be the first write to its segment (the file is created and extended as a
side effect); a page read past the end of an existing file only happens during
recovery and yields zeroes, same as a missing file.
*/
package slru

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "os.MkdirAll failed")
	}
	return nil
}

// segmentFilePath returns the path of the segment file
func (m *Manager) segmentFilePath(segno SegmentNumber) string {
	return filepath.Join(m.cfg.Dir, SegmentFileName(segno, m.cfg.LongSegmentNames))
}

// offsetInSegment returns the byte offset of the page within its segment file
func offsetInSegment(pageno PageNumber) int64 {
	return int64(pageno%PagesPerSegment) * PageSize
}

// physicalReadPage reads the page from its segment file into buf.
// called without any lock held; the caller owns the slot via its I/O lock.
func (m *Manager) physicalReadPage(pageno PageNumber, buf []byte, mode ReadMode) error {
	segno := SegmentOfPage(pageno)
	path := m.segmentFilePath(segno)

	fd, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && mode == ReadModeRecovery {
			// the segment was truncated away before the crash; replay is
			// asking for data that is known-irrelevant
			zeroFill(buf)
			return nil
		}
		return errors.Wrapf(err, "open of %s failed", path)
	}
	defer fd.Close()

	n, err := fd.ReadAt(buf, offsetInSegment(pageno))
	if err != nil {
		if err == io.EOF && mode == ReadModeRecovery {
			zeroFill(buf[n:])
			return nil
		}
		return errors.Wrapf(err, "read of page %d in %s failed", pageno, path)
	}
	return nil
}

// physicalWritePage writes buf to the page's position in its segment file.
// When fds is nil the file is opened, written, fsynced and closed in one
// call; WriteAll passes its descriptor cache instead and fsyncs in bulk.
func (m *Manager) physicalWritePage(pageno PageNumber, buf []byte, fds *fdCache) error {
	segno := SegmentOfPage(pageno)

	if fds != nil {
		fd, err := fds.get(segno)
		if err != nil {
			return errors.Wrap(err, "fds.get failed")
		}
		if _, err := fd.WriteAt(buf, offsetInSegment(pageno)); err != nil {
			return errors.Wrapf(err, "write of page %d failed", pageno)
		}
		return nil
	}

	path := m.segmentFilePath(segno)
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return errors.Wrapf(err, "open of %s failed", path)
	}
	if _, err := fd.WriteAt(buf, offsetInSegment(pageno)); err != nil {
		fd.Close()
		return errors.Wrapf(err, "write of page %d in %s failed", pageno, path)
	}
	if err := fd.Sync(); err != nil {
		fd.Close()
		return errors.Wrapf(err, "fsync of %s failed", path)
	}
	if err := fd.Close(); err != nil {
		return errors.Wrapf(err, "close of %s failed", path)
	}
	return nil
}

func zeroFill(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// maxWriteAllFds bounds the number of files a full flush holds open at once
const maxWriteAllFds = 16

// fdCache reuses segment file descriptors across the pages of one WriteAll.
// When the bound is hit the whole batch is synced and closed; correctness
// does not depend on the cache, only the open-file count does.
type fdCache struct {
	m   *Manager
	fds map[SegmentNumber]*os.File
}

func newFDCache(m *Manager) *fdCache {
	return &fdCache{
		m:   m,
		fds: make(map[SegmentNumber]*os.File),
	}
}

func (c *fdCache) get(segno SegmentNumber) (*os.File, error) {
	if fd, ok := c.fds[segno]; ok {
		return fd, nil
	}
	if len(c.fds) >= maxWriteAllFds {
		if err := c.syncAll(); err != nil {
			return nil, errors.Wrap(err, "syncAll failed")
		}
		c.closeAll()
	}
	path := c.m.segmentFilePath(segno)
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "open of %s failed", path)
	}
	c.fds[segno] = fd
	return fd, nil
}

func (c *fdCache) syncAll() error {
	for segno, fd := range c.fds {
		if err := fd.Sync(); err != nil {
			return errors.Wrapf(err, "fsync of segment %d failed", segno)
		}
	}
	return nil
}

func (c *fdCache) closeAll() {
	for segno, fd := range c.fds {
		fd.Close()
		delete(c.fds, segno)
	}
}
