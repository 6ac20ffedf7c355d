// Package replay tracks which proof ids have already been consumed and
// guarantees at-most-once admission for each.
package replay

import (
	"fmt"

	"github.com/geotrust/geomatch/internal/crypto"
	"github.com/geotrust/geomatch/internal/ledgertime"
)

// Store is the persistence surface the guard requires. Implemented by
// store.Replays.
type Store interface {
	HasProofID(id crypto.Hash) (bool, error)
	PutProofID(id crypto.Hash, seen, expiresAt ledgertime.Seq) error
	PruneExpired(now ledgertime.Seq) (int, error)
}

// Guard admits each proof id at most once. The host serializes all state
// transitions, so the check-then-insert pair is atomic from the caller's
// perspective.
type Guard struct {
	store   Store
	horizon ledgertime.Seq
}

// NewGuard creates a guard whose records expire horizon sequence numbers
// after first acceptance. The proving system binds every proof to a
// freshness nonce no older than the horizon, so pruning cannot re-admit a
// proof that was genuinely submitted within it.
func NewGuard(store Store, horizon ledgertime.Seq) *Guard {
	return &Guard{store: store, horizon: horizon}
}

// CheckAndRecord tests membership and inserts if absent. It returns true
// iff the id was previously absent, i.e. the proof is fresh.
func (g *Guard) CheckAndRecord(id crypto.Hash, now ledgertime.Seq) (bool, error) {
	seen, err := g.store.HasProofID(id)
	if err != nil {
		return false, fmt.Errorf("check proof id: %w", err)
	}
	if seen {
		return false, nil
	}
	if err := g.store.PutProofID(id, now, now+g.horizon); err != nil {
		return false, fmt.Errorf("record proof id: %w", err)
	}
	return true, nil
}

// Prune removes records past the retention horizon and reports how many
// were deleted.
func (g *Guard) Prune(now ledgertime.Seq) (int, error) {
	return g.store.PruneExpired(now)
}
