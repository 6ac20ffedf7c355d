package groth16_test

import (
	"sync"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	gnarkgroth16 "github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/geotrust/geomatch/internal/crypto"
	"github.com/geotrust/geomatch/internal/groth16"
	"github.com/geotrust/geomatch/internal/ledgertime"
	"github.com/geotrust/geomatch/internal/replay"
	"github.com/geotrust/geomatch/internal/store"
	"github.com/geotrust/geomatch/pkg/db/pebble"
)

// cellCircuit proves knowledge of grid coordinates that map to the
// publicly claimed cell, without revealing the coordinates.
type cellCircuit struct {
	CellID    frontend.Variable `gnark:",public"`
	GridScale frontend.Variable `gnark:",public"`
	Row       frontend.Variable
	Col       frontend.Variable
}

func (c *cellCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(api.Add(api.Mul(c.Row, 1000), c.Col), c.CellID)
	api.AssertIsDifferent(c.GridScale, 0)
	return nil
}

const (
	testCell  = 42*1000 + 7
	testScale = 1_000_000
)

type proofBundle struct {
	vk    *groth16.VerificationKey
	proof *groth16.Proof
}

var (
	bundleOnce sync.Once
	bundle     proofBundle
	bundleErr  error
)

// testBundle compiles the circuit, runs the trusted setup and produces one
// honest proof. The result is shared across tests; callers must treat it
// as read-only and copy before mutating.
func testBundle(t *testing.T) proofBundle {
	t.Helper()
	bundleOnce.Do(func() {
		var circuit cellCircuit
		cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
		if err != nil {
			bundleErr = err
			return
		}
		pk, vk, err := gnarkgroth16.Setup(cs)
		if err != nil {
			bundleErr = err
			return
		}
		assignment := cellCircuit{
			CellID:    testCell,
			GridScale: testScale,
			Row:       42,
			Col:       7,
		}
		witness, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField())
		if err != nil {
			bundleErr = err
			return
		}
		proof, err := gnarkgroth16.Prove(cs, pk, witness)
		if err != nil {
			bundleErr = err
			return
		}

		bvk := vk.(*groth16bn254.VerifyingKey)
		bproof := proof.(*groth16bn254.Proof)
		bundle = proofBundle{
			vk: &groth16.VerificationKey{
				Alpha: bvk.G1.Alpha,
				Beta:  bvk.G2.Beta,
				Gamma: bvk.G2.Gamma,
				Delta: bvk.G2.Delta,
				IC:    bvk.G1.K,
			},
			proof: &groth16.Proof{
				A: bproof.Ar,
				B: bproof.Bs,
				C: bproof.Krs,
				PublicInputs: []fr.Element{
					groth16.FrFromUint32(testCell),
					groth16.FrFromUint32(testScale),
				},
			},
		}
	})
	require.NoError(t, bundleErr)
	return bundle
}

// copyProof returns a mutable copy sharing nothing with the original.
func copyProof(p *groth16.Proof) *groth16.Proof {
	cp := *p
	cp.PublicInputs = make([]fr.Element, len(p.PublicInputs))
	copy(cp.PublicInputs, p.PublicInputs)
	return &cp
}

var testAdmin = crypto.Principal{0: 0xad}

func newVerifier(t *testing.T) (*groth16.Verifier, *ledgertime.Counter) {
	t.Helper()
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	clock := ledgertime.NewCounter(1)
	guard := replay.NewGuard(store.NewReplays(kv), 1000)
	return groth16.NewVerifier(store.NewKeys(kv), guard, clock, testAdmin, zerolog.Nop()), clock
}

func newVerifierWithKey(t *testing.T) (*groth16.Verifier, *ledgertime.Counter) {
	t.Helper()
	v, clock := newVerifier(t)
	require.NoError(t, v.SetVerificationKey(testAdmin, testBundle(t).vk))
	return v, clock
}

func TestVerifyHonestProof(t *testing.T) {
	v, _ := newVerifierWithKey(t)
	b := testBundle(t)

	err := v.Verify(b.proof, groth16.PublicBinding{CellID: testCell})
	require.NoError(t, err)
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	v, _ := newVerifierWithKey(t)
	b := testBundle(t)

	// Valid encoding, wrong group element: swap A for the generator.
	tampered := copyProof(b.proof)
	_, _, g1, _ := bn254.Generators()
	tampered.A = g1

	err := v.Verify(tampered, groth16.PublicBinding{CellID: testCell})
	require.ErrorIs(t, err, groth16.ErrProofInvalid)
}

func TestVerifyRejectsTamperedInput(t *testing.T) {
	v, _ := newVerifierWithKey(t)
	b := testBundle(t)

	// The claim and the declared input agree with each other but not with
	// the proof, so the pairing check must catch it.
	tampered := copyProof(b.proof)
	tampered.PublicInputs[0] = groth16.FrFromUint32(testCell + 1)

	err := v.Verify(tampered, groth16.PublicBinding{CellID: testCell + 1})
	require.ErrorIs(t, err, groth16.ErrProofInvalid)
}

func TestVerifyRejectsMismatchedBinding(t *testing.T) {
	v, _ := newVerifierWithKey(t)
	b := testBundle(t)

	// An honest proof for one cell must not admit a claim for another.
	err := v.Verify(b.proof, groth16.PublicBinding{CellID: testCell + 1})
	require.ErrorIs(t, err, groth16.ErrProofInvalid)
}

func TestVerifyRejectsCellOutOfRange(t *testing.T) {
	v, _ := newVerifierWithKey(t)
	b := testBundle(t)

	err := v.Verify(b.proof, groth16.PublicBinding{CellID: groth16.MaxCellID + 1})
	require.ErrorIs(t, err, groth16.ErrProofInvalid)
}

func TestVerifyRejectsGridScaleOutOfBounds(t *testing.T) {
	v, _ := newVerifierWithKey(t)
	b := testBundle(t)

	tampered := copyProof(b.proof)
	tampered.PublicInputs[1] = groth16.FrFromUint32(groth16.MinGridScale - 1)

	err := v.Verify(tampered, groth16.PublicBinding{CellID: testCell})
	require.ErrorIs(t, err, groth16.ErrProofInvalid)
}

func TestVerifyRejectsNilAndMissingKey(t *testing.T) {
	v, _ := newVerifier(t)
	b := testBundle(t)

	err := v.Verify(nil, groth16.PublicBinding{CellID: testCell})
	require.ErrorIs(t, err, groth16.ErrProofInvalid)

	err = v.Verify(b.proof, groth16.PublicBinding{CellID: testCell})
	require.ErrorIs(t, err, groth16.ErrNoVerificationKey)
}

func TestVerifyRejectsReplay(t *testing.T) {
	v, clock := newVerifierWithKey(t)
	b := testBundle(t)

	require.NoError(t, v.Verify(b.proof, groth16.PublicBinding{CellID: testCell}))

	clock.Advance()
	err := v.Verify(b.proof, groth16.PublicBinding{CellID: testCell})
	require.ErrorIs(t, err, groth16.ErrReplay)
}

func TestVerifyRejectionLeavesNoReplayRecord(t *testing.T) {
	v, _ := newVerifierWithKey(t)
	b := testBundle(t)

	// A rejected submission must not burn the proof id.
	err := v.Verify(b.proof, groth16.PublicBinding{CellID: testCell + 1})
	require.ErrorIs(t, err, groth16.ErrProofInvalid)

	require.NoError(t, v.Verify(b.proof, groth16.PublicBinding{CellID: testCell}))
}

func TestVerifyBatch(t *testing.T) {
	v, _ := newVerifierWithKey(t)
	b := testBundle(t)

	bad := copyProof(b.proof)
	bad.PublicInputs[0] = groth16.FrFromUint32(testCell + 1)

	results, err := v.VerifyBatch([]groth16.BatchItem{
		{Proof: b.proof, Binding: groth16.PublicBinding{CellID: testCell}},
		{Proof: bad, Binding: groth16.PublicBinding{CellID: testCell + 1}},
		// A duplicate of an accepted proof fails the replay guard.
		{Proof: b.proof, Binding: groth16.PublicBinding{CellID: testCell}},
	})
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, false}, results)
}

func TestVerifyBatchCap(t *testing.T) {
	v, _ := newVerifierWithKey(t)

	items := make([]groth16.BatchItem, groth16.MaxBatch+1)
	_, err := v.VerifyBatch(items)
	require.ErrorIs(t, err, groth16.ErrBatchTooLarge)

	// At the cap the batch is processed; nil proofs simply fail.
	results, err := v.VerifyBatch(items[:groth16.MaxBatch])
	require.NoError(t, err)
	require.Len(t, results, groth16.MaxBatch)
	for _, r := range results {
		require.False(t, r)
	}
}

func TestProofIDDeterministic(t *testing.T) {
	b := testBundle(t)

	require.Equal(t, b.proof.ProofID(), copyProof(b.proof).ProofID())

	altered := copyProof(b.proof)
	altered.PublicInputs[0] = groth16.FrFromUint32(testCell + 1)
	require.NotEqual(t, b.proof.ProofID(), altered.ProofID())
}

func TestProofRoundTrip(t *testing.T) {
	b := testBundle(t)

	raw, err := b.proof.MarshalBinary()
	require.NoError(t, err)

	var decoded groth16.Proof
	require.NoError(t, decoded.UnmarshalBinary(raw))
	require.Equal(t, b.proof.ProofID(), decoded.ProofID())

	// Corrupt a point encoding: decode must fail, not panic.
	raw[len(raw)/2] ^= 0xff
	var corrupt groth16.Proof
	require.Error(t, corrupt.UnmarshalBinary(raw))
}

func TestVerificationKeyValidate(t *testing.T) {
	b := testBundle(t)

	require.NoError(t, b.vk.Validate())

	empty := *b.vk
	empty.IC = nil
	require.ErrorIs(t, empty.Validate(), groth16.ErrInvalidKey)

	infinite := *b.vk
	infinite.Alpha = bn254.G1Affine{}
	require.ErrorIs(t, infinite.Validate(), groth16.ErrInvalidKey)

	oversized := *b.vk
	oversized.IC = make([]bn254.G1Affine, groth16.MaxPublicInputs+2)
	_, _, g1, _ := bn254.Generators()
	for i := range oversized.IC {
		oversized.IC[i] = g1
	}
	require.ErrorIs(t, oversized.Validate(), groth16.ErrInvalidKey)
}

func TestKeyManagementAuthorization(t *testing.T) {
	v, _ := newVerifier(t)
	b := testBundle(t)
	outsider := crypto.Principal{0: 0x99}

	require.ErrorIs(t, v.SetVerificationKey(outsider, b.vk), groth16.ErrUnauthorized)
	require.NoError(t, v.SetVerificationKey(testAdmin, b.vk))

	hash, err := v.VerificationKeyHash()
	require.NoError(t, err)
	require.False(t, hash.IsZero())

	require.ErrorIs(t, v.ClearVerificationKey(outsider), groth16.ErrUnauthorized)
	require.NoError(t, v.ClearVerificationKey(testAdmin))

	_, found, err := v.VerificationKey()
	require.NoError(t, err)
	require.False(t, found)

	// Admin handover: the old admin is locked out.
	next := crypto.Principal{0: 0x55}
	require.ErrorIs(t, v.SetAdmin(outsider, next), groth16.ErrUnauthorized)
	require.NoError(t, v.SetAdmin(testAdmin, next))
	require.Equal(t, next, v.Admin())
	require.ErrorIs(t, v.SetVerificationKey(testAdmin, b.vk), groth16.ErrUnauthorized)
	require.NoError(t, v.SetVerificationKey(next, b.vk))
}
