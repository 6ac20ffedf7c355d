package store

import (
	"encoding/binary"
	"fmt"

	"github.com/geotrust/geomatch/internal/crypto"
	"github.com/geotrust/geomatch/internal/ledgertime"
	"github.com/geotrust/geomatch/pkg/db"
)

// Replays persists consumed proof ids with a retention horizon.
// Implements replay.Store.
type Replays struct {
	*Timed
}

func NewReplays(kv db.KVStore) *Replays {
	return &Replays{Timed: NewTimed(kv)}
}

func (r *Replays) HasProofID(id crypto.Hash) (bool, error) {
	found, err := r.Has(makeKey(prefixReplay, id[:]))
	if err != nil {
		return false, fmt.Errorf("check proof id: %w", err)
	}
	return found, nil
}

// PutProofID records a consumed proof id. The value is the sequence number
// at which the id was first seen; it is kept for operator inspection only.
func (r *Replays) PutProofID(id crypto.Hash, seen, expiresAt ledgertime.Seq) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, uint64(seen))
	if err := r.PutWithExpiry(makeKey(prefixReplay, id[:]), raw, expiresAt); err != nil {
		return fmt.Errorf("put proof id: %w", err)
	}
	return nil
}
