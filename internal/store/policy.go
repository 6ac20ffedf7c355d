package store

import (
	"encoding/binary"
	"fmt"

	"github.com/geotrust/geomatch/internal/crypto"
	"github.com/geotrust/geomatch/pkg/db"
)

// Policies persists jurisdiction policy, per-code delegations and the
// global-admin singleton. None of these records expire. Implements
// policy.Store.
type Policies struct {
	db.KVStore
}

func NewPolicies(kv db.KVStore) *Policies {
	return &Policies{KVStore: kv}
}

// GetPolicy reads a code's explicit entry. A code has at most one entry;
// its value byte is the Allowed flag, which is why a code can never sit in
// both partitions.
func (p *Policies) GetPolicy(code uint32) (allowed bool, found bool, err error) {
	key := makeU32Key(prefixPolicy, code)
	found, err = p.Has(key)
	if err != nil {
		return false, false, fmt.Errorf("check policy: %w", err)
	}
	if !found {
		return false, false, nil
	}
	raw, err := p.Get(key)
	if err != nil {
		return false, false, fmt.Errorf("get policy: %w", err)
	}
	if len(raw) != 1 {
		return false, false, fmt.Errorf("corrupt policy record: %d bytes", len(raw))
	}
	return raw[0] == 1, true, nil
}

func (p *Policies) PutPolicy(code uint32, allowed bool) error {
	value := []byte{0}
	if allowed {
		value[0] = 1
	}
	if err := p.Put(makeU32Key(prefixPolicy, code), value); err != nil {
		return fmt.Errorf("put policy: %w", err)
	}
	return nil
}

// CountPolicies reports the sizes of the allow and deny partitions.
func (p *Policies) CountPolicies() (allowed uint32, denied uint32, err error) {
	err = p.iteratePolicies(func(code uint32, isAllowed bool) {
		if isAllowed {
			allowed++
		} else {
			denied++
		}
	})
	return allowed, denied, err
}

// AllowedCodes returns all explicitly allowed codes in ascending order.
func (p *Policies) AllowedCodes() ([]uint32, error) {
	var codes []uint32
	err := p.iteratePolicies(func(code uint32, isAllowed bool) {
		if isAllowed {
			codes = append(codes, code)
		}
	})
	return codes, err
}

func (p *Policies) iteratePolicies(fn func(code uint32, allowed bool)) error {
	start := makeU32Key(prefixPolicy, 0)
	end := []byte{prefixPolicy + 1}
	iter, err := p.NewIterator(start, end)
	if err != nil {
		return fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	for iter.Next() {
		if !iter.Valid() {
			break
		}
		key := iter.Key()
		if len(key) != 5 {
			return fmt.Errorf("corrupt policy key: %d bytes", len(key))
		}
		value, err := iter.Value()
		if err != nil {
			return fmt.Errorf("get iterator value: %w", err)
		}
		if len(value) != 1 {
			return fmt.Errorf("corrupt policy record: %d bytes", len(value))
		}
		fn(binary.BigEndian.Uint32(key[1:]), value[0] == 1)
	}
	return nil
}

func (p *Policies) GetDelegate(code uint32) (crypto.Principal, bool, error) {
	key := makeU32Key(prefixDelegate, code)
	found, err := p.Has(key)
	if err != nil {
		return crypto.Principal{}, false, fmt.Errorf("check delegate: %w", err)
	}
	if !found {
		return crypto.Principal{}, false, nil
	}
	raw, err := p.Get(key)
	if err != nil {
		return crypto.Principal{}, false, fmt.Errorf("get delegate: %w", err)
	}
	if len(raw) != crypto.PrincipalSize {
		return crypto.Principal{}, false, fmt.Errorf("corrupt delegate record: %d bytes", len(raw))
	}
	var admin crypto.Principal
	copy(admin[:], raw)
	return admin, true, nil
}

func (p *Policies) PutDelegate(code uint32, admin crypto.Principal) error {
	if err := p.Put(makeU32Key(prefixDelegate, code), admin[:]); err != nil {
		return fmt.Errorf("put delegate: %w", err)
	}
	return nil
}

func (p *Policies) DeleteDelegate(code uint32) error {
	if err := p.Delete(makeU32Key(prefixDelegate, code)); err != nil {
		return fmt.Errorf("delete delegate: %w", err)
	}
	return nil
}

func (p *Policies) GlobalAdmin() (crypto.Principal, bool, error) {
	key := makeMetaKey(metaGlobalAdmin)
	found, err := p.Has(key)
	if err != nil {
		return crypto.Principal{}, false, fmt.Errorf("check global admin: %w", err)
	}
	if !found {
		return crypto.Principal{}, false, nil
	}
	raw, err := p.Get(key)
	if err != nil {
		return crypto.Principal{}, false, fmt.Errorf("get global admin: %w", err)
	}
	if len(raw) != crypto.PrincipalSize {
		return crypto.Principal{}, false, fmt.Errorf("corrupt global admin record: %d bytes", len(raw))
	}
	var admin crypto.Principal
	copy(admin[:], raw)
	return admin, true, nil
}

func (p *Policies) SetGlobalAdmin(admin crypto.Principal) error {
	if err := p.Put(makeMetaKey(metaGlobalAdmin), admin[:]); err != nil {
		return fmt.Errorf("put global admin: %w", err)
	}
	return nil
}

func (p *Policies) DefaultAllow() (bool, error) {
	key := makeMetaKey(metaDefaultAllow)
	found, err := p.Has(key)
	if err != nil {
		return false, fmt.Errorf("check default allow: %w", err)
	}
	if !found {
		return false, nil
	}
	raw, err := p.Get(key)
	if err != nil {
		return false, fmt.Errorf("get default allow: %w", err)
	}
	return len(raw) == 1 && raw[0] == 1, nil
}

func (p *Policies) SetDefaultAllow(value bool) error {
	raw := []byte{0}
	if value {
		raw[0] = 1
	}
	if err := p.Put(makeMetaKey(metaDefaultAllow), raw); err != nil {
		return fmt.Errorf("put default allow: %w", err)
	}
	return nil
}
