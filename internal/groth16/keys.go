package groth16

import (
	"fmt"

	"github.com/geotrust/geomatch/internal/crypto"
)

// SetVerificationKey validates and publishes a new verification key,
// replacing any previous one. Admin-only: an unauthorized caller aborts
// the call.
func (v *Verifier) SetVerificationKey(caller crypto.Principal, vk *VerificationKey) error {
	if caller != v.admin {
		return ErrUnauthorized
	}
	if err := vk.Validate(); err != nil {
		return err
	}
	if err := v.keys.PutVerificationKey(vk); err != nil {
		return fmt.Errorf("store verification key: %w", err)
	}
	hash, err := v.VerificationKeyHash()
	if err != nil {
		return err
	}
	v.log.Info().Str("vk_hash", hash.String()).Int("public_inputs", len(vk.IC)-1).Msg("verification key published")
	return nil
}

// ClearVerificationKey removes the published key. Admin-only.
func (v *Verifier) ClearVerificationKey(caller crypto.Principal) error {
	if caller != v.admin {
		return ErrUnauthorized
	}
	if err := v.keys.DeleteVerificationKey(); err != nil {
		return fmt.Errorf("delete verification key: %w", err)
	}
	v.log.Info().Msg("verification key cleared")
	return nil
}

// SetAdmin hands the verifier admin role to next. Only the current admin
// may call it.
func (v *Verifier) SetAdmin(caller, next crypto.Principal) error {
	if caller != v.admin {
		return ErrUnauthorized
	}
	v.admin = next
	return nil
}

// Admin returns the current verifier admin.
func (v *Verifier) Admin() crypto.Principal {
	return v.admin
}

// VerificationKey returns the published key, if any.
func (v *Verifier) VerificationKey() (*VerificationKey, bool, error) {
	return v.keys.GetVerificationKey()
}

// VerificationKeyHash returns the blake2b digest of the serialized key.
func (v *Verifier) VerificationKeyHash() (crypto.Hash, error) {
	vk, found, err := v.keys.GetVerificationKey()
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("load verification key: %w", err)
	}
	if !found {
		return crypto.Hash{}, ErrNoVerificationKey
	}
	raw, err := vk.MarshalBinary()
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("serialize verification key: %w", err)
	}
	return crypto.HashData(raw), nil
}
