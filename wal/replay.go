package wal

import (
	"github.com/pkg/errors"
)

// RedoFunc re-applies one record during replay
type RedoFunc func(rec Record) error

// Dispatcher routes records to the subsystem that emitted them during replay.
// Each log manager registers a redo function for its record types at startup.
type Dispatcher struct {
	handlers map[RecordType]RedoFunc
}

// NewDispatcher initializes dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[RecordType]RedoFunc),
	}
}

// Register registers the redo function for a record type
func (d *Dispatcher) Register(typ RecordType, fn RedoFunc) {
	d.handlers[typ] = fn
}

// Replay re-applies records in order.
// A record type nobody registered for is an error: this core emits a closed
// set of types, an unknown one means the log and the binary disagree.
func (d *Dispatcher) Replay(records []Record) error {
	for i, rec := range records {
		fn, ok := d.handlers[rec.Type]
		if !ok {
			return errors.Errorf("no redo handler for record type %d at position %d", rec.Type, i)
		}
		if err := fn(rec); err != nil {
			return errors.Wrapf(err, "redo of record type %d at position %d failed", rec.Type, i)
		}
	}
	return nil
}
