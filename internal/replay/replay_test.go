package replay_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geotrust/geomatch/internal/crypto"
	"github.com/geotrust/geomatch/internal/ledgertime"
	"github.com/geotrust/geomatch/internal/replay"
	"github.com/geotrust/geomatch/internal/store"
	"github.com/geotrust/geomatch/pkg/db/pebble"
)

func newGuard(t *testing.T, horizon ledgertime.Seq) *replay.Guard {
	t.Helper()
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return replay.NewGuard(store.NewReplays(kv), horizon)
}

func TestCheckAndRecordAdmitsOnce(t *testing.T) {
	guard := newGuard(t, 100)
	id := crypto.HashData([]byte("proof-1"))

	fresh, err := guard.CheckAndRecord(id, 10)
	require.NoError(t, err)
	require.True(t, fresh)

	fresh, err = guard.CheckAndRecord(id, 11)
	require.NoError(t, err)
	require.False(t, fresh)

	// A distinct id is unaffected.
	fresh, err = guard.CheckAndRecord(crypto.HashData([]byte("proof-2")), 11)
	require.NoError(t, err)
	require.True(t, fresh)
}

func TestPruneRespectsHorizon(t *testing.T) {
	guard := newGuard(t, 100)

	early := crypto.HashData([]byte("early"))
	late := crypto.HashData([]byte("late"))

	fresh, err := guard.CheckAndRecord(early, 10) // expires at 110
	require.NoError(t, err)
	require.True(t, fresh)
	fresh, err = guard.CheckAndRecord(late, 50) // expires at 150
	require.NoError(t, err)
	require.True(t, fresh)

	// Before any expiry nothing is removed and both ids stay blocked.
	pruned, err := guard.Prune(109)
	require.NoError(t, err)
	require.Zero(t, pruned)

	pruned, err = guard.Prune(110)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	fresh, err = guard.CheckAndRecord(late, 111)
	require.NoError(t, err)
	require.False(t, fresh)

	// The pruned id would be re-admitted, which is safe: proofs carry a
	// freshness nonce bounded by the same horizon.
	fresh, err = guard.CheckAndRecord(early, 111)
	require.NoError(t, err)
	require.True(t, fresh)
}
