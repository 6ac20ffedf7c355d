package store

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/stretchr/testify/require"

	"github.com/geotrust/geomatch/internal/crypto"
	"github.com/geotrust/geomatch/internal/groth16"
	"github.com/geotrust/geomatch/internal/session"
	"github.com/geotrust/geomatch/pkg/db/pebble"
)

func TestTimedPutGetPrune(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	defer kv.Close()

	timed := NewTimed(kv)
	key := makeKey(prefixReplay, []byte("record"))

	require.NoError(t, timed.PutWithExpiry(key, []byte("payload"), 10))

	value, found, err := timed.GetTimed(key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("payload"), value)

	// Not yet expired: nothing to prune.
	pruned, err := timed.PruneExpired(9)
	require.NoError(t, err)
	require.Zero(t, pruned)

	_, found, err = timed.GetTimed(key)
	require.NoError(t, err)
	require.True(t, found)

	pruned, err = timed.PruneExpired(10)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	_, found, err = timed.GetTimed(key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestTimedPruneSkipsRefreshedRecord(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	defer kv.Close()

	timed := NewTimed(kv)
	key := makeKey(prefixReplay, []byte("refreshed"))

	require.NoError(t, timed.PutWithExpiry(key, []byte("v1"), 5))
	// Re-write with a later expiry; the index entry for seq 5 goes stale.
	require.NoError(t, timed.PutWithExpiry(key, []byte("v2"), 20))

	pruned, err := timed.PruneExpired(5)
	require.NoError(t, err)
	require.Zero(t, pruned)

	value, found, err := timed.GetTimed(key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v2"), value)

	pruned, err = timed.PruneExpired(20)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)
}

func TestSessionsNextIDMonotonic(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	defer kv.Close()

	sessions := NewSessions(kv)
	first, err := sessions.NextID()
	require.NoError(t, err)
	require.Equal(t, uint32(1), first)

	second, err := sessions.NextID()
	require.NoError(t, err)
	require.Equal(t, uint32(2), second)
}

func TestSessionsRoundTrip(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	defer kv.Close()

	sessions := NewSessions(kv)

	var playerA crypto.Principal
	playerA[0] = 0xaa
	sess := session.Session{
		ID:        7,
		State:     session.Waiting,
		PlayerA:   playerA,
		ClaimA:    session.PlayerClaim{Cell: 42, Code: 752},
		CreatedAt: 100,
	}
	require.NoError(t, sessions.Put(sess, 200))

	got, found, err := sessions.Get(7)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, sess, got)

	_, found, err = sessions.Get(8)
	require.NoError(t, err)
	require.False(t, found)
}

func TestSessionsExpireIndependently(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	defer kv.Close()

	sessions := NewSessions(kv)
	require.NoError(t, sessions.Put(session.Session{ID: 1}, 50))
	require.NoError(t, sessions.Put(session.Session{ID: 2}, 100))

	pruned, err := sessions.PruneExpired(50)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	_, found, err := sessions.Get(1)
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = sessions.Get(2)
	require.NoError(t, err)
	require.True(t, found)
}

func TestPoliciesPartitions(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	defer kv.Close()

	policies := NewPolicies(kv)

	_, found, err := policies.GetPolicy(752)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, policies.PutPolicy(752, true))
	require.NoError(t, policies.PutPolicy(840, false))
	require.NoError(t, policies.PutPolicy(36, true))

	allowed, foundEntry, err := policies.GetPolicy(752)
	require.NoError(t, err)
	require.True(t, foundEntry)
	require.True(t, allowed)

	allowed, foundEntry, err = policies.GetPolicy(840)
	require.NoError(t, err)
	require.True(t, foundEntry)
	require.False(t, allowed)

	allowCount, denyCount, err := policies.CountPolicies()
	require.NoError(t, err)
	require.Equal(t, uint32(2), allowCount)
	require.Equal(t, uint32(1), denyCount)

	codes, err := policies.AllowedCodes()
	require.NoError(t, err)
	require.Equal(t, []uint32{36, 752}, codes)

	// Flipping an entry moves it between partitions instead of duplicating.
	require.NoError(t, policies.PutPolicy(752, false))
	allowCount, denyCount, err = policies.CountPolicies()
	require.NoError(t, err)
	require.Equal(t, uint32(1), allowCount)
	require.Equal(t, uint32(2), denyCount)
}

func TestPoliciesDelegates(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	defer kv.Close()

	policies := NewPolicies(kv)

	var admin crypto.Principal
	admin[0] = 0x11

	_, found, err := policies.GetDelegate(752)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, policies.PutDelegate(752, admin))
	got, found, err := policies.GetDelegate(752)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, admin, got)

	require.NoError(t, policies.DeleteDelegate(752))
	_, found, err = policies.GetDelegate(752)
	require.NoError(t, err)
	require.False(t, found)
}

func TestPoliciesSingletons(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	defer kv.Close()

	policies := NewPolicies(kv)

	_, found, err := policies.GlobalAdmin()
	require.NoError(t, err)
	require.False(t, found)

	var admin crypto.Principal
	admin[31] = 0xff
	require.NoError(t, policies.SetGlobalAdmin(admin))

	got, found, err := policies.GlobalAdmin()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, admin, got)

	allow, err := policies.DefaultAllow()
	require.NoError(t, err)
	require.False(t, allow)

	require.NoError(t, policies.SetDefaultAllow(true))
	allow, err = policies.DefaultAllow()
	require.NoError(t, err)
	require.True(t, allow)
}

func TestReplaysLifecycle(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	defer kv.Close()

	replays := NewReplays(kv)
	id := crypto.HashData([]byte("proof"))

	seen, err := replays.HasProofID(id)
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, replays.PutProofID(id, 30, 90))

	seen, err = replays.HasProofID(id)
	require.NoError(t, err)
	require.True(t, seen)

	pruned, err := replays.PruneExpired(90)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	seen, err = replays.HasProofID(id)
	require.NoError(t, err)
	require.False(t, seen)
}

func TestKeysRoundTrip(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	defer kv.Close()

	keys := NewKeys(kv)

	_, found, err := keys.GetVerificationKey()
	require.NoError(t, err)
	require.False(t, found)

	_, _, g1, g2 := bn254.Generators()
	vk := &groth16.VerificationKey{
		Alpha: g1,
		Beta:  g2,
		Gamma: g2,
		Delta: g2,
		IC:    []bn254.G1Affine{g1, g1},
	}
	require.NoError(t, keys.PutVerificationKey(vk))

	got, found, err := keys.GetVerificationKey()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, vk, got)

	require.NoError(t, keys.DeleteVerificationKey())
	_, found, err = keys.GetVerificationKey()
	require.NoError(t, err)
	require.False(t, found)
}

func TestClockPersistence(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	defer kv.Close()

	seq, err := GetClockSeq(kv)
	require.NoError(t, err)
	require.Zero(t, seq)

	require.NoError(t, PutClockSeq(kv, 1234))
	seq, err = GetClockSeq(kv)
	require.NoError(t, err)
	require.EqualValues(t, 1234, seq)
}
