package groth16

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/rs/zerolog"

	"github.com/geotrust/geomatch/internal/crypto"
	"github.com/geotrust/geomatch/internal/ledgertime"
)

// KeyStore is the persistence surface for the published verification key.
// Implemented by store.Keys.
type KeyStore interface {
	GetVerificationKey() (*VerificationKey, bool, error)
	PutVerificationKey(vk *VerificationKey) error
	DeleteVerificationKey() error
}

// ReplayGuard admits each proof id at most once. Implemented by
// replay.Guard.
type ReplayGuard interface {
	CheckAndRecord(id crypto.Hash, now ledgertime.Seq) (bool, error)
}

// Verifier validates submitted proofs against the stored verification key.
// Key management is gated on the verifier's own admin principal,
// replaceable only by itself.
type Verifier struct {
	keys   KeyStore
	replay ReplayGuard
	clock  ledgertime.Clock
	admin  crypto.Principal
	log    zerolog.Logger
}

func NewVerifier(keys KeyStore, replay ReplayGuard, clock ledgertime.Clock, admin crypto.Principal, log zerolog.Logger) *Verifier {
	return &Verifier{keys: keys, replay: replay, clock: clock, admin: admin, log: log}
}

// Verify checks one proof end to end: public-input binding, input-vector
// bounds, the pairing equation, and replay freshness. A nil return means
// the proof was accepted and its id recorded. Every rejection is a typed
// error; attacker-supplied input never panics.
func (v *Verifier) Verify(proof *Proof, binding PublicBinding) error {
	if proof == nil {
		return fmt.Errorf("%w: missing proof", ErrProofInvalid)
	}
	if err := v.checkBinding(proof, binding); err != nil {
		return err
	}
	// Resource bound: reject inflated input vectors before any curve
	// arithmetic runs.
	if len(proof.PublicInputs) > MaxPublicInputs {
		return ErrTooManyInputs
	}

	vk, found, err := v.keys.GetVerificationKey()
	if err != nil {
		return fmt.Errorf("load verification key: %w", err)
	}
	if !found {
		return ErrNoVerificationKey
	}
	if len(proof.PublicInputs) != len(vk.IC)-1 {
		return fmt.Errorf("%w: %d public inputs, key expects %d",
			ErrProofInvalid, len(proof.PublicInputs), len(vk.IC)-1)
	}
	if proof.A.IsInfinity() || proof.B.IsInfinity() || proof.C.IsInfinity() {
		return fmt.Errorf("%w: proof element is the point at infinity", ErrProofInvalid)
	}

	ok, err := v.pairingCheck(proof, vk)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	if !ok {
		return fmt.Errorf("%w: pairing check failed", ErrProofInvalid)
	}

	id := proof.ProofID()
	fresh, err := v.replay.CheckAndRecord(id, v.clock.Current())
	if err != nil {
		return fmt.Errorf("replay guard: %w", err)
	}
	if !fresh {
		return ErrReplay
	}
	v.log.Debug().Str("proof_id", id.String()).Uint32("cell", binding.CellID).Msg("proof accepted")
	return nil
}

// VerifyBatch verifies up to MaxBatch proofs. One malformed item yields a
// false result without failing its siblings; only an oversized batch
// aborts the whole call, before any curve arithmetic.
func (v *Verifier) VerifyBatch(items []BatchItem) ([]bool, error) {
	if len(items) > MaxBatch {
		return nil, ErrBatchTooLarge
	}
	results := make([]bool, len(items))
	for i := range items {
		results[i] = v.Verify(items[i].Proof, items[i].Binding) == nil
	}
	return results, nil
}

// checkBinding ties the declared public inputs to the plaintext claim: the
// first input must equal the claimed cell id, the cell id must lie inside
// the grid, and the scaled grid size must sit within its published bounds.
func (v *Verifier) checkBinding(proof *Proof, binding PublicBinding) error {
	if binding.CellID > MaxCellID {
		return fmt.Errorf("%w: cell id %d out of range", ErrProofInvalid, binding.CellID)
	}
	if len(proof.PublicInputs) < 2 {
		return fmt.Errorf("%w: missing public inputs", ErrProofInvalid)
	}
	cell := FrFromUint32(binding.CellID)
	if !proof.PublicInputs[0].Equal(&cell) {
		return fmt.Errorf("%w: public input does not match claimed cell", ErrProofInvalid)
	}
	minScale := FrFromUint32(MinGridScale)
	maxScale := FrFromUint32(MaxGridScale)
	if proof.PublicInputs[1].Cmp(&minScale) < 0 || proof.PublicInputs[1].Cmp(&maxScale) > 0 {
		return fmt.Errorf("%w: grid scale out of bounds", ErrProofInvalid)
	}
	return nil
}

// pairingCheck evaluates the Groth16 equation as a single multi-pairing
// with the proof's A negated:
//
//	e(-A, B) · e(alpha, beta) · e(IC_sum, gamma) · e(C, delta) == 1
//
// which holds iff e(A, B) = e(alpha, beta) · e(IC_sum, gamma) · e(C, delta).
func (v *Verifier) pairingCheck(proof *Proof, vk *VerificationKey) (bool, error) {
	icSum := vk.IC[0]
	var scalar big.Int
	for i := range proof.PublicInputs {
		var input fr.Element
		input.Set(&proof.PublicInputs[i])
		var term bn254.G1Affine
		term.ScalarMultiplication(&vk.IC[i+1], input.BigInt(&scalar))
		icSum.Add(&icSum, &term)
	}

	var negA bn254.G1Affine
	negA.Neg(&proof.A)

	return bn254.PairingCheck(
		[]bn254.G1Affine{negA, vk.Alpha, icSum, proof.C},
		[]bn254.G2Affine{proof.B, vk.Beta, vk.Gamma, vk.Delta},
	)
}
