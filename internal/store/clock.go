package store

import (
	"encoding/binary"
	"fmt"

	"github.com/geotrust/geomatch/internal/ledgertime"
	"github.com/geotrust/geomatch/pkg/db"
)

// GetClockSeq reads the persisted logical clock, returning zero when it
// has never been written.
func GetClockSeq(kv db.KVStore) (ledgertime.Seq, error) {
	key := makeMetaKey(metaClock)
	found, err := kv.Has(key)
	if err != nil {
		return 0, fmt.Errorf("check clock: %w", err)
	}
	if !found {
		return 0, nil
	}
	raw, err := kv.Get(key)
	if err != nil {
		return 0, fmt.Errorf("get clock: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt clock record: %d bytes", len(raw))
	}
	return ledgertime.Seq(binary.BigEndian.Uint64(raw)), nil
}

// PutClockSeq persists the logical clock.
func PutClockSeq(kv db.KVStore, seq ledgertime.Seq) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, uint64(seq))
	if err := kv.Put(makeMetaKey(metaClock), raw); err != nil {
		return fmt.Errorf("put clock: %w", err)
	}
	return nil
}
