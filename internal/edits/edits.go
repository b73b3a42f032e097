// Package edits accumulates applied mutations for the persistence
// collaborator.
//
// The accumulator is append-only for the life of an editing session.
// Reading it (Records, Flush) never clears it, so a failed sync followed by
// a retry resends the same batch plus whatever was edited in between.
package edits

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/model"
)

// ErrNothingToSync is returned by Flush on an empty accumulator.
var ErrNothingToSync = errors.New("edits: nothing to sync")

// Syncer ships a change set to external storage.
type Syncer interface {
	SyncEdits(ctx context.Context, pageID string, records []model.EditRecord) error
}

// SyncerFunc adapts a function to Syncer.
type SyncerFunc func(ctx context.Context, pageID string, records []model.EditRecord) error

// SyncEdits calls f.
func (f SyncerFunc) SyncEdits(ctx context.Context, pageID string, records []model.EditRecord) error {
	return f(ctx, pageID, records)
}

// Accumulator collects EditRecords in application order.
type Accumulator struct {
	mu      sync.RWMutex
	records []model.EditRecord
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append records one applied mutation.
func (a *Accumulator) Append(r model.EditRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
}

// Records returns a copy of the change set.
func (a *Accumulator) Records() []model.EditRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]model.EditRecord(nil), a.records...)
}

// Len returns the number of records.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// Latest collapses the change set to the last content per selector, in
// order of first edit.
func (a *Accumulator) Latest() []model.EditRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	pos := make(map[string]int, len(a.records))
	var out []model.EditRecord
	for _, r := range a.records {
		if i, ok := pos[r.Selector]; ok {
			out[i] = r
			continue
		}
		pos[r.Selector] = len(out)
		out = append(out, r)
	}
	return out
}

// Flush hands the current change set to s. The accumulator keeps every
// record whatever the outcome.
func (a *Accumulator) Flush(ctx context.Context, s Syncer, pageID string) (int, error) {
	batch := a.Records()
	if len(batch) == 0 {
		return 0, ErrNothingToSync
	}
	if err := s.SyncEdits(ctx, pageID, batch); err != nil {
		return len(batch), fmt.Errorf("edits: sync %d records: %w", len(batch), err)
	}
	return len(batch), nil
}
