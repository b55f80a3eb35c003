package client

import (
	"context"
	"errors"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

var ErrNotInBatch = errors.New("transfer is not part of this batch")

// Batch runs a set of transfers concurrently to a single completion barrier. There is no
// concurrency limit and a failing transfer never cancels its siblings.
//
// Adding a transfer grants it to the batch: until it is removed (or the batch is closed) the
// transfer cannot be executed on its own.
type Batch struct {
	mu        sync.Mutex
	transfers []*Transfer
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Add(t *Transfer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owner != nil {
		return ErrTransferOwned
	}
	t.owner = b

	b.mu.Lock()
	b.transfers = append(b.transfers, t)
	b.mu.Unlock()
	return nil
}

// Remove revokes the batch's ownership of t.
func (b *Batch) Remove(t *Transfer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owner != b {
		return ErrNotInBatch
	}
	t.owner = nil

	b.mu.Lock()
	b.transfers = slices.DeleteFunc(b.transfers, func(other *Transfer) bool { return other == t })
	b.mu.Unlock()
	return nil
}

// Close releases every transfer still held by the batch.
func (b *Batch) Close() {
	b.mu.Lock()
	transfers := b.transfers
	b.transfers = nil
	b.mu.Unlock()

	for _, t := range transfers {
		t.mu.Lock()
		if t.owner == b {
			t.owner = nil
		}
		t.mu.Unlock()
	}
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.transfers)
}

// Run starts every registered transfer and blocks until all of them have finished. Outcomes are
// returned in registration order.
func (b *Batch) Run(ctx context.Context) []Outcome {
	b.mu.Lock()
	transfers := slices.Clone(b.transfers)
	b.mu.Unlock()

	outcomes := make([]Outcome, len(transfers))
	var eg errgroup.Group
	for i, t := range transfers {
		eg.Go(func() error {
			outcomes[i] = t.run(ctx)
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes
}
