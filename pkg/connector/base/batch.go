package base

import (
	"context"
	"sync"

	"github.com/binarymachines/mercury/pkg/connector/core"
	"github.com/binarymachines/mercury/pkg/models"
)

// CommitFunc writes a batch to the backend. On a non-nil error the Ack
// returned covers a prefix of the batch: its Written and Rejected records
// are settled and only the rest of the batch is offered again. An empty
// Ack leaves the whole batch uncommitted.
type CommitFunc func(ctx context.Context, batch []*models.Record) (core.Ack, error)

// Batcher buffers records for a sink and commits them in batches.
//
// A full buffer is committed before the incoming record is appended, so a
// failed Write leaves the record outside the buffer and retrying the same
// Write cannot duplicate it. Batcher is safe for concurrent writers.
type Batcher struct {
	mu      sync.Mutex
	pending []*models.Record
	size    int
	commit  CommitFunc
}

// NewBatcher creates a batcher committing size records at a time.
func NewBatcher(size int, commit CommitFunc) *Batcher {
	if size < 1 {
		size = 1
	}
	return &Batcher{
		pending: make([]*models.Record, 0, size),
		size:    size,
		commit:  commit,
	}
}

// Write adds rec, committing the buffer first when it is full.
func (b *Batcher) Write(ctx context.Context, rec *models.Record) (core.Ack, error) {
	var ack core.Ack
	if batch := b.takeIfFull(); batch != nil {
		a, err := b.commit(ctx, batch)
		if err != nil {
			b.restore(unsettled(batch, a))
			return a, err
		}
		ack = a
	}

	b.mu.Lock()
	b.pending = append(b.pending, rec)
	b.mu.Unlock()
	return ack, nil
}

// Flush commits everything buffered.
func (b *Batcher) Flush(ctx context.Context) (core.Ack, error) {
	b.mu.Lock()
	batch := b.pending
	b.pending = make([]*models.Record, 0, b.size)
	b.mu.Unlock()

	if len(batch) == 0 {
		return core.Ack{}, nil
	}
	ack, err := b.commit(ctx, batch)
	if err != nil {
		b.restore(unsettled(batch, ack))
		return ack, err
	}
	return ack, nil
}

// Len returns the number of buffered records.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) takeIfFull() []*models.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) < b.size {
		return nil
	}
	batch := b.pending
	b.pending = make([]*models.Record, 0, b.size)
	return batch
}

// unsettled returns the records of batch past the prefix ack covers.
func unsettled(batch []*models.Record, ack core.Ack) []*models.Record {
	n := ack.Written + len(ack.Rejected)
	if n > len(batch) {
		n = len(batch)
	}
	return batch[n:]
}

func (b *Batcher) restore(batch []*models.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(batch, b.pending...)
}

// RejectAll builds an Ack rejecting every record of a batch with err.
func RejectAll(batch []*models.Record, err error) core.Ack {
	rejected := make([]error, len(batch))
	for i := range batch {
		rejected[i] = err
	}
	return core.Ack{Rejected: rejected}
}
