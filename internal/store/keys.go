package store

import (
	"fmt"

	"github.com/geotrust/geomatch/internal/groth16"
	"github.com/geotrust/geomatch/pkg/db"
)

// verification key singleton key: the prefix with an empty suffix.
var vkKey = []byte{prefixVerificationKey}

// Keys persists the published Groth16 verification key. Implements
// groth16.KeyStore.
type Keys struct {
	db.KVStore
}

func NewKeys(kv db.KVStore) *Keys {
	return &Keys{KVStore: kv}
}

func (k *Keys) GetVerificationKey() (*groth16.VerificationKey, bool, error) {
	found, err := k.Has(vkKey)
	if err != nil {
		return nil, false, fmt.Errorf("check verification key: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	raw, err := k.Get(vkKey)
	if err != nil {
		return nil, false, fmt.Errorf("get verification key: %w", err)
	}
	vk := new(groth16.VerificationKey)
	if err := vk.UnmarshalBinary(raw); err != nil {
		return nil, false, fmt.Errorf("decode verification key: %w", err)
	}
	return vk, true, nil
}

func (k *Keys) PutVerificationKey(vk *groth16.VerificationKey) error {
	raw, err := vk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode verification key: %w", err)
	}
	if err := k.Put(vkKey, raw); err != nil {
		return fmt.Errorf("put verification key: %w", err)
	}
	return nil
}

func (k *Keys) DeleteVerificationKey() error {
	if err := k.Delete(vkKey); err != nil {
		return fmt.Errorf("delete verification key: %w", err)
	}
	return nil
}
