/*
Horizon truncation coordinator.

Every transaction log keeps history back to some oldest identifier; the
coordinator is the one place that decides how far back anyone can still
look and discards the rest. One pass computes the oldest needed transaction
id and multixact id from the counters and the process registry, advances the
identifier horizon (which also moves the wraparound limits), and then
truncates each log.

Passes are serialized: two concurrent truncations of the same log could
interleave their buffer scans and file deletions. Everything else proceeds
concurrently with a pass; the logs tolerate truncation behind their readers
because the horizon is computed from what those readers published.
*/
package horizon

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tsubamedb/tsubame/common"
	"github.com/tsubamedb/tsubame/transaction/clog"
	"github.com/tsubamedb/tsubame/transaction/committs"
	"github.com/tsubamedb/tsubame/transaction/multixact"
	"github.com/tsubamedb/tsubame/transaction/txid"
)

// Coordinator owns the truncation pass over every transaction log
type Coordinator struct {
	// one truncation pass at a time
	mu sync.Mutex

	tm        *txid.Manager
	clog      *clog.Manager
	committs  *committs.Manager
	multixact *multixact.Manager
}

// NewCoordinator initializes horizon truncation coordinator
func NewCoordinator(tm *txid.Manager, cl *clog.Manager, cts *committs.Manager, mx *multixact.Manager) *Coordinator {
	return &Coordinator{
		tm:        tm,
		clog:      cl,
		committs:  cts,
		multixact: mx,
	}
}

// TruncateAll computes the oldest identifiers anyone may still need and
// discards everything older from every log. oldestDB names the database
// constraining the horizon.
func (c *Coordinator) TruncateAll(oldestDB common.DatabaseID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncateTo(c.tm.ComputeOldestNeeded(), c.multixact.ComputeOldestNeeded(), oldestDB)
}

// SetOldestNeeded runs a truncation pass with horizons the caller computed,
// the way a vacuum pass feeds back per-database cutoffs this module cannot
// see. Each cutoff is clamped into what the registry and the current bounds
// allow, so a caller working from stale information can neither discard live
// history nor fail the pass.
func (c *Coordinator) SetOldestNeeded(oldestXID txid.TxID, oldestMXID multixact.MultiXactID, oldestDB common.DatabaseID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if safe := c.tm.ComputeOldestNeeded(); safe.Precedes(oldestXID) {
		oldestXID = safe
	}
	if safe := c.multixact.ComputeOldestNeeded(); safe.Precedes(oldestMXID) {
		oldestMXID = safe
	}
	if cur := c.multixact.OldestMultiXactID(); oldestMXID.Precedes(cur) {
		oldestMXID = cur
	}
	return c.truncateTo(oldestXID, oldestMXID, oldestDB)
}

// truncateTo is one truncation pass over every log. Caller holds c.mu.
func (c *Coordinator) truncateTo(oldestXID txid.TxID, oldestMXID multixact.MultiXactID, oldestDB common.DatabaseID) error {
	// advance the identifier horizon first: the wraparound limits derive
	// from it, and the truncations below must never discard anything the
	// new horizon still covers
	c.tm.SetOldestTxID(oldestXID)

	if err := c.clog.Truncate(oldestXID); err != nil {
		return errors.Wrap(err, "commit log truncation failed")
	}
	if err := c.committs.Truncate(oldestXID); err != nil {
		return errors.Wrap(err, "commit timestamp truncation failed")
	}
	if err := c.multixact.Truncate(oldestMXID, oldestDB); err != nil {
		return errors.Wrap(err, "multixact truncation failed")
	}

	log.WithFields(log.Fields{
		"oldestXID":  uint64(oldestXID),
		"oldestMXID": uint64(oldestMXID),
	}).Info("transaction log horizons advanced")
	return nil
}

// FlushAll writes every dirty page of every log, as the checkpoint requires.
// The logs flush in parallel; a page re-dirtied during the pass is left for
// the next checkpoint.
func (c *Coordinator) FlushAll() error {
	var g errgroup.Group
	g.Go(func() error { return c.clog.Cache().WriteAll(true) })
	g.Go(func() error { return c.committs.Cache().WriteAll(true) })
	g.Go(func() error { return c.multixact.OffsetsCache().WriteAll(true) })
	g.Go(func() error { return c.multixact.MembersCache().WriteAll(true) })
	return g.Wait()
}

// Run services the allocation-side maintenance signal until the context is
// cancelled. A failed pass is logged and retried on the next signal; holding
// history a little longer is always safe.
func (c *Coordinator) Run(ctx context.Context, oldestDB common.DatabaseID) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.tm.MaintenanceSignals():
			if err := c.TruncateAll(oldestDB); err != nil {
				log.WithError(err).Error("horizon truncation pass failed")
			}
		}
	}
}
