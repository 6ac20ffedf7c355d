package store

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/geotrust/geomatch/internal/ledgertime"
	"github.com/geotrust/geomatch/pkg/db"
)

// envelope wraps an expiring record with its authoritative expiry. The
// expiry index may hold stale entries for keys that were re-written with a
// later expiry; pruning trusts the envelope, never the index alone.
type envelope struct {
	ExpiresAt uint64
	Data      []byte
}

// Timed adds put-with-expiry semantics on top of a KVStore. Records are
// only removed by PruneExpired; reads of an expired-but-unpruned record
// still succeed.
type Timed struct {
	db.KVStore
}

func NewTimed(kv db.KVStore) *Timed {
	return &Timed{KVStore: kv}
}

// PutWithExpiry writes the record and its expiry index entry atomically.
func (t *Timed) PutWithExpiry(key, value []byte, expiresAt ledgertime.Seq) error {
	raw, err := cbor.Marshal(envelope{ExpiresAt: uint64(expiresAt), Data: value})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	batch := t.NewBatch()
	defer batch.Close()

	if err := batch.Put(key, raw); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	if err := batch.Put(makeExpiryKey(expiresAt, key), nil); err != nil {
		return fmt.Errorf("put expiry index: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// GetTimed reads an expiring record, reporting whether it exists.
func (t *Timed) GetTimed(key []byte) ([]byte, bool, error) {
	found, err := t.Has(key)
	if err != nil {
		return nil, false, fmt.Errorf("check record: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	raw, err := t.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("get record: %w", err)
	}
	var env envelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env.Data, true, nil
}

// PruneExpired removes every record whose expiry has passed and reports
// how many records were deleted. Stale index entries for records that
// were re-written with a later expiry are dropped without touching the
// record.
func (t *Timed) PruneExpired(now ledgertime.Seq) (int, error) {
	start := []byte{prefixExpiry}
	end := makeExpiryKey(now+1, nil)

	iter, err := t.NewIterator(start, end)
	if err != nil {
		return 0, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	batch := t.NewBatch()
	defer batch.Close()

	pruned := 0
	for iter.Next() {
		if !iter.Valid() {
			break
		}
		indexKey := iter.Key()
		if err := batch.Delete(indexKey); err != nil {
			return 0, fmt.Errorf("delete expiry index: %w", err)
		}
		target := indexKey[1+8:]
		found, err := t.Has(target)
		if err != nil {
			return 0, fmt.Errorf("check record: %w", err)
		}
		if !found {
			continue
		}
		expiresAt, err := t.recordExpiry(target)
		if err != nil {
			return 0, err
		}
		if expiresAt > uint64(now) {
			// Re-written with a later expiry; the live index entry will
			// collect it.
			continue
		}
		if err := batch.Delete(target); err != nil {
			return 0, fmt.Errorf("delete record: %w", err)
		}
		pruned++
	}

	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return pruned, nil
}

func (t *Timed) recordExpiry(key []byte) (uint64, error) {
	raw, err := t.Get(key)
	if err != nil {
		return 0, fmt.Errorf("get record: %w", err)
	}
	var env envelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return 0, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env.ExpiresAt, nil
}

// makeExpiryKey builds prefixExpiry ‖ big-endian seq ‖ target key, so the
// index iterates in expiry order.
func makeExpiryKey(expiresAt ledgertime.Seq, target []byte) []byte {
	key := make([]byte, 1+8+len(target))
	key[0] = prefixExpiry
	binary.BigEndian.PutUint64(key[1:9], uint64(expiresAt))
	copy(key[9:], target)
	return key
}
