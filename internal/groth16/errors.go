package groth16

import "errors"

var (
	// ErrProofInvalid covers malformed encodings, binding mismatches and
	// failed pairing checks. Proofs are attacker-supplied, so all of these
	// are rejections, never panics.
	ErrProofInvalid = errors.New("proof invalid")

	// ErrReplay marks a proof whose id has already been consumed.
	ErrReplay = errors.New("proof already consumed")

	// ErrNoVerificationKey is returned when no key has been published.
	ErrNoVerificationKey = errors.New("verification key not set")

	// ErrTooManyInputs rejects an attacker-inflated public input vector
	// before any curve arithmetic runs.
	ErrTooManyInputs = errors.New("public input vector exceeds cap")

	// ErrBatchTooLarge rejects an oversized batch before any work is done.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")

	// ErrUnauthorized guards key management operations.
	ErrUnauthorized = errors.New("caller is not the verifier admin")

	// ErrInvalidKey rejects a structurally unsound verification key.
	ErrInvalidKey = errors.New("invalid verification key")
)
