// Package policy implements the jurisdiction access-control evaluator: a
// per-code allow/deny map with a global default, administered by a global
// admin who may delegate authority for individual jurisdiction codes.
package policy

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/geotrust/geomatch/internal/crypto"
	"github.com/geotrust/geomatch/internal/safemath"
)

// Store is the persistence surface the engine requires. Implemented by
// store.Policies.
type Store interface {
	GetPolicy(code uint32) (allowed bool, found bool, err error)
	PutPolicy(code uint32, allowed bool) error
	CountPolicies() (allowed uint32, denied uint32, err error)
	AllowedCodes() ([]uint32, error)

	GetDelegate(code uint32) (crypto.Principal, bool, error)
	PutDelegate(code uint32, admin crypto.Principal) error
	DeleteDelegate(code uint32) error

	GlobalAdmin() (crypto.Principal, bool, error)
	SetGlobalAdmin(admin crypto.Principal) error

	DefaultAllow() (bool, error)
	SetDefaultAllow(value bool) error
}

// Engine evaluates and administers jurisdiction policy. All authorization
// checks run before the first write; operations are total after
// authorization passes.
type Engine struct {
	store Store
	log   zerolog.Logger
}

func NewEngine(store Store, log zerolog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// Init records the global admin and the default-allow flag. It may only be
// called once; afterwards the admin is replaceable only by itself via
// SetGlobalAdmin.
func (e *Engine) Init(admin crypto.Principal, defaultAllowAll bool) error {
	if _, found, err := e.store.GlobalAdmin(); err != nil {
		return fmt.Errorf("read global admin: %w", err)
	} else if found {
		return ErrUnauthorized
	}
	if err := e.store.SetGlobalAdmin(admin); err != nil {
		return fmt.Errorf("set global admin: %w", err)
	}
	if err := e.store.SetDefaultAllow(defaultAllowAll); err != nil {
		return fmt.Errorf("set default allow: %w", err)
	}
	e.log.Info().Str("admin", admin.String()).Bool("default_allow", defaultAllowAll).Msg("policy engine initialized")
	return nil
}

// EffectiveAdmin returns the delegated admin for the code if one exists,
// falling back to the global admin.
func (e *Engine) EffectiveAdmin(code uint32) (crypto.Principal, error) {
	delegate, found, err := e.store.GetDelegate(code)
	if err != nil {
		return crypto.Principal{}, fmt.Errorf("read delegate: %w", err)
	}
	if found {
		return delegate, nil
	}
	global, found, err := e.store.GlobalAdmin()
	if err != nil {
		return crypto.Principal{}, fmt.Errorf("read global admin: %w", err)
	}
	if !found {
		return crypto.Principal{}, ErrNoGlobalAdmin
	}
	return global, nil
}

// SetPolicy overwrites the code's policy entry. The caller must be the
// effective admin for the code; a delegated admin may only touch its own
// code. Writing one partition clears the other by construction: a code has
// a single entry carrying its Allowed flag.
func (e *Engine) SetPolicy(caller crypto.Principal, code uint32, allowed bool) error {
	admin, err := e.EffectiveAdmin(code)
	if err != nil {
		return err
	}
	if caller != admin {
		return ErrUnauthorized
	}
	if err := e.store.PutPolicy(code, allowed); err != nil {
		return fmt.Errorf("put policy: %w", err)
	}
	e.log.Info().Uint32("code", code).Bool("allowed", allowed).Msg("jurisdiction policy updated")
	return nil
}

// IsAllowed resolves the effective permission for a code. It is total: an
// absent code resolves to the default, never to an error.
func (e *Engine) IsAllowed(code uint32) (bool, error) {
	allowed, found, err := e.store.GetPolicy(code)
	if err != nil {
		return false, fmt.Errorf("read policy: %w", err)
	}
	if found {
		return allowed, nil
	}
	return e.store.DefaultAllow()
}

// Delegate assigns (or, with a nil admin, removes) the per-code admin.
// Global-admin only.
func (e *Engine) Delegate(caller crypto.Principal, code uint32, admin *crypto.Principal) error {
	if err := e.requireGlobalAdmin(caller); err != nil {
		return err
	}
	if admin == nil {
		if err := e.store.DeleteDelegate(code); err != nil {
			return fmt.Errorf("delete delegate: %w", err)
		}
		e.log.Info().Uint32("code", code).Msg("delegation removed")
		return nil
	}
	if err := e.store.PutDelegate(code, *admin); err != nil {
		return fmt.Errorf("put delegate: %w", err)
	}
	e.log.Info().Uint32("code", code).Str("admin", admin.String()).Msg("delegation set")
	return nil
}

// SetDefault sets the fallback permission for codes with no explicit
// entry. Global-admin only.
func (e *Engine) SetDefault(caller crypto.Principal, value bool) error {
	if err := e.requireGlobalAdmin(caller); err != nil {
		return err
	}
	if err := e.store.SetDefaultAllow(value); err != nil {
		return fmt.Errorf("set default allow: %w", err)
	}
	return nil
}

// SetGlobalAdmin hands the global admin role to next. Only the current
// global admin may call it.
func (e *Engine) SetGlobalAdmin(caller, next crypto.Principal) error {
	if err := e.requireGlobalAdmin(caller); err != nil {
		return err
	}
	if err := e.store.SetGlobalAdmin(next); err != nil {
		return fmt.Errorf("set global admin: %w", err)
	}
	e.log.Info().Str("admin", next.String()).Msg("global admin replaced")
	return nil
}

// GetPolicy is the read accessor for the presentation boundary.
func (e *Engine) GetPolicy(code uint32) (allowed bool, admin crypto.Principal, err error) {
	allowed, err = e.IsAllowed(code)
	if err != nil {
		return false, crypto.Principal{}, err
	}
	admin, err = e.EffectiveAdmin(code)
	if err != nil {
		return false, crypto.Principal{}, err
	}
	return allowed, admin, nil
}

// Summary reports the default flag and the sizes of the two partitions.
func (e *Engine) Summary() (defaultAllow bool, allowed, denied uint32, err error) {
	defaultAllow, err = e.store.DefaultAllow()
	if err != nil {
		return false, 0, 0, err
	}
	allowed, denied, err = e.store.CountPolicies()
	if err != nil {
		return false, 0, 0, err
	}
	return defaultAllow, allowed, denied, nil
}

// ListAllowedCodes returns one page of explicitly allowed codes in
// ascending order. Page offsets are computed with checked arithmetic since
// the inputs are caller-controlled; an overflowing or out-of-range page
// yields an empty slice, never an error.
func (e *Engine) ListAllowedCodes(page, pageSize uint32) ([]uint32, error) {
	codes, err := e.store.AllowedCodes()
	if err != nil {
		return nil, fmt.Errorf("list allowed codes: %w", err)
	}
	start, ok := safemath.Mul32(page, pageSize)
	if !ok {
		return []uint32{}, nil
	}
	end, ok := safemath.Add32(start, pageSize)
	if !ok {
		end = uint32(len(codes))
	}
	if start >= uint32(len(codes)) {
		return []uint32{}, nil
	}
	if end > uint32(len(codes)) {
		end = uint32(len(codes))
	}
	return codes[start:end], nil
}

func (e *Engine) requireGlobalAdmin(caller crypto.Principal) error {
	global, found, err := e.store.GlobalAdmin()
	if err != nil {
		return fmt.Errorf("read global admin: %w", err)
	}
	if !found {
		return ErrNoGlobalAdmin
	}
	if caller != global {
		return ErrUnauthorized
	}
	return nil
}
