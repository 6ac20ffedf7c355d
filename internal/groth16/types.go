// Package groth16 verifies Groth16 proofs over the BN254 pairing-friendly
// curve. It checks the single pairing equation
//
//	e(A, B) = e(alpha, beta) · e(IC_sum, gamma) · e(C, delta)
//
// as one multi-pairing with the proof's A negated, binds the declared
// public inputs to the caller's plaintext claim, and consults the replay
// guard so each accepted proof is consumed at most once.
package groth16

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/fxamacker/cbor/v2"

	"github.com/geotrust/geomatch/internal/crypto"
)

const (
	// MaxPublicInputs caps the declared public input vector; anything
	// larger is rejected before curve arithmetic runs.
	MaxPublicInputs = 16

	// MaxBatch caps the number of items a single VerifyBatch call accepts.
	MaxBatch = 100

	// MaxCellID bounds the claimable cell identifier space.
	MaxCellID = 100_000

	// MinGridScale and MaxGridScale bound the scaled grid size carried as
	// the second public input.
	MinGridScale = 1_000_000
	MaxGridScale = 10_000_000
)

// VerificationKey holds the published Groth16 verification key. IC has one
// point per public input plus the constant term.
type VerificationKey struct {
	Alpha bn254.G1Affine
	Beta  bn254.G2Affine
	Gamma bn254.G2Affine
	Delta bn254.G2Affine
	IC    []bn254.G1Affine
}

// Proof is a submitted Groth16 proof together with its caller-declared
// public inputs. Proofs are ephemeral: only the derived ProofID persists.
type Proof struct {
	A            bn254.G1Affine
	B            bn254.G2Affine
	C            bn254.G1Affine
	PublicInputs []fr.Element
}

// PublicBinding ties a proof to the plaintext claim the caller is making
// alongside it, so a valid-but-irrelevant proof cannot be reused for a
// different claim.
type PublicBinding struct {
	CellID uint32
}

// BatchItem pairs a proof with its binding for VerifyBatch.
type BatchItem struct {
	Proof   *Proof
	Binding PublicBinding
}

// FrFromUint32 lifts a uint32 into the scalar field.
func FrFromUint32(v uint32) fr.Element {
	var e fr.Element
	e.SetUint64(uint64(v))
	return e
}

// ProofID derives the persistent replay identifier:
// blake2b256(proof_bytes ‖ public_inputs_bytes).
func (p *Proof) ProofID() crypto.Hash {
	parts := make([][]byte, 0, 3+len(p.PublicInputs))
	parts = append(parts, p.A.Marshal(), p.B.Marshal(), p.C.Marshal())
	for i := range p.PublicInputs {
		parts = append(parts, p.PublicInputs[i].Marshal())
	}
	return crypto.HashConcat(parts...)
}

type verificationKeyRecord struct {
	Alpha []byte
	Beta  []byte
	Gamma []byte
	Delta []byte
	IC    [][]byte
}

type proofRecord struct {
	A      []byte
	B      []byte
	C      []byte
	Inputs [][]byte
}

// MarshalBinary encodes the key as a CBOR record of uncompressed points.
func (vk *VerificationKey) MarshalBinary() ([]byte, error) {
	rec := verificationKeyRecord{
		Alpha: vk.Alpha.Marshal(),
		Beta:  vk.Beta.Marshal(),
		Gamma: vk.Gamma.Marshal(),
		Delta: vk.Delta.Marshal(),
		IC:    make([][]byte, len(vk.IC)),
	}
	for i := range vk.IC {
		rec.IC[i] = vk.IC[i].Marshal()
	}
	return cbor.Marshal(rec)
}

// UnmarshalBinary decodes and validates point encodings; curve and
// subgroup membership are checked by the point decoders.
func (vk *VerificationKey) UnmarshalBinary(data []byte) error {
	var rec verificationKeyRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode verification key record: %w", err)
	}
	if err := vk.Alpha.Unmarshal(rec.Alpha); err != nil {
		return fmt.Errorf("decode alpha: %w", err)
	}
	if err := vk.Beta.Unmarshal(rec.Beta); err != nil {
		return fmt.Errorf("decode beta: %w", err)
	}
	if err := vk.Gamma.Unmarshal(rec.Gamma); err != nil {
		return fmt.Errorf("decode gamma: %w", err)
	}
	if err := vk.Delta.Unmarshal(rec.Delta); err != nil {
		return fmt.Errorf("decode delta: %w", err)
	}
	vk.IC = make([]bn254.G1Affine, len(rec.IC))
	for i := range rec.IC {
		if err := vk.IC[i].Unmarshal(rec.IC[i]); err != nil {
			return fmt.Errorf("decode ic[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks the structural invariants required before a key may be
// published.
func (vk *VerificationKey) Validate() error {
	if vk.Alpha.IsInfinity() {
		return fmt.Errorf("%w: alpha is the point at infinity", ErrInvalidKey)
	}
	if vk.Beta.IsInfinity() || vk.Gamma.IsInfinity() || vk.Delta.IsInfinity() {
		return fmt.Errorf("%w: G2 element is the point at infinity", ErrInvalidKey)
	}
	if len(vk.IC) == 0 {
		return fmt.Errorf("%w: empty IC vector", ErrInvalidKey)
	}
	if len(vk.IC) > MaxPublicInputs+1 {
		return fmt.Errorf("%w: IC vector exceeds input cap", ErrInvalidKey)
	}
	for i := range vk.IC {
		if vk.IC[i].IsInfinity() {
			return fmt.Errorf("%w: ic[%d] is the point at infinity", ErrInvalidKey, i)
		}
	}
	return nil
}

// MarshalBinary encodes the proof and its public inputs as a CBOR record.
func (p *Proof) MarshalBinary() ([]byte, error) {
	rec := proofRecord{
		A:      p.A.Marshal(),
		B:      p.B.Marshal(),
		C:      p.C.Marshal(),
		Inputs: make([][]byte, len(p.PublicInputs)),
	}
	for i := range p.PublicInputs {
		rec.Inputs[i] = p.PublicInputs[i].Marshal()
	}
	return cbor.Marshal(rec)
}

// UnmarshalBinary decodes a proof record. Malformed point encodings
// surface as errors wrapping ErrProofInvalid.
func (p *Proof) UnmarshalBinary(data []byte) error {
	var rec proofRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("%w: decode proof record: %v", ErrProofInvalid, err)
	}
	if err := p.A.Unmarshal(rec.A); err != nil {
		return fmt.Errorf("%w: decode A: %v", ErrProofInvalid, err)
	}
	if err := p.B.Unmarshal(rec.B); err != nil {
		return fmt.Errorf("%w: decode B: %v", ErrProofInvalid, err)
	}
	if err := p.C.Unmarshal(rec.C); err != nil {
		return fmt.Errorf("%w: decode C: %v", ErrProofInvalid, err)
	}
	if len(rec.Inputs) > MaxPublicInputs {
		return ErrTooManyInputs
	}
	p.PublicInputs = make([]fr.Element, len(rec.Inputs))
	for i := range rec.Inputs {
		p.PublicInputs[i].SetBytes(rec.Inputs[i])
	}
	return nil
}
