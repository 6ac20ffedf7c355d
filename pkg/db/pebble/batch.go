package pebble

import (
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/geotrust/geomatch/pkg/db"
)

// Batch collects writes and deletes that commit atomically. A batch is
// single-use: after Commit or Close every operation returns ErrBatchDone.
type Batch struct {
	batch *pebble.Batch
	done  atomic.Bool
}

func (p *KVStore) NewBatch() db.Batch {
	return &Batch{batch: p.db.NewBatch()}
}

func (b *Batch) Put(key, value []byte) error {
	if b.done.Load() {
		return ErrBatchDone
	}
	return b.batch.Set(key, value, nil)
}

func (b *Batch) Delete(key []byte) error {
	if b.done.Load() {
		return ErrBatchDone
	}
	return b.batch.Delete(key, nil)
}

// Commit applies the batch durably.
func (b *Batch) Commit() error {
	if !b.done.CompareAndSwap(false, true) {
		return ErrBatchDone
	}
	if err := b.batch.Commit(pebble.Sync); err != nil {
		return err
	}
	return b.batch.Close()
}

// Close releases the batch; closing after Commit is a no-op.
func (b *Batch) Close() error {
	if b.done.Load() {
		return nil
	}
	b.done.Store(true)
	return b.batch.Close()
}
