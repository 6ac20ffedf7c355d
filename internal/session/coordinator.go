package session

import (
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"github.com/geotrust/geomatch/internal/crypto"
	"github.com/geotrust/geomatch/internal/groth16"
	"github.com/geotrust/geomatch/internal/ledgertime"
)

// PolicyChecker resolves whether a jurisdiction may participate.
// Implemented by policy.Engine.
type PolicyChecker interface {
	IsAllowed(code uint32) (bool, error)
}

// ProofChecker validates a location proof against the caller's claimed
// cell. Implemented by groth16.Verifier.
type ProofChecker interface {
	Verify(proof *groth16.Proof, binding groth16.PublicBinding) error
}

// Config carries the coordinator's injected policy knobs.
type Config struct {
	// SessionTTL is how many sequence numbers a session record lives past
	// its last write before it may be pruned.
	SessionTTL ledgertime.Seq
	// Predicate decides the match outcome; nil selects AdjacentCells.
	Predicate MatchPredicate
}

// Coordinator orchestrates the matchmaking state machine. It consumes the
// policy decision (mandatory) and proof verification (optional per join)
// atomically with the state transition.
type Coordinator struct {
	store     Store
	policy    PolicyChecker
	verifier  ProofChecker
	notifier  Notifier
	clock     ledgertime.Clock
	ttl       ledgertime.Seq
	predicate MatchPredicate
	log       zerolog.Logger
}

func NewCoordinator(
	store Store,
	policy PolicyChecker,
	verifier ProofChecker,
	notifier Notifier,
	clock ledgertime.Clock,
	cfg Config,
	log zerolog.Logger,
) *Coordinator {
	predicate := cfg.Predicate
	if predicate == nil {
		predicate = AdjacentCells
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Coordinator{
		store:     store,
		policy:    policy,
		verifier:  verifier,
		notifier:  notifier,
		clock:     clock,
		ttl:       cfg.SessionTTL,
		predicate: predicate,
		log:       log,
	}
}

// CreateSession opens a Waiting session with the caller as player A. The
// creator's claim passes through the same policy and proof gates a joiner
// faces.
func (c *Coordinator) CreateSession(caller crypto.Principal, claim PlayerClaim, proof *groth16.Proof) (uint32, error) {
	if err := c.admitClaim(claim, proof); err != nil {
		return 0, err
	}

	id, err := c.store.NextID()
	if err != nil {
		return 0, err
	}
	now := c.clock.Current()
	s := Session{
		ID:        id,
		State:     Waiting,
		PlayerA:   caller,
		ClaimA:    claim,
		CreatedAt: now,
	}
	if err := c.store.Put(s, now+c.ttl); err != nil {
		return 0, fmt.Errorf("store session: %w", err)
	}
	c.log.Info().Uint32("session", id).Str("player_a", caller.String()).Msg("session created")
	return id, nil
}

// JoinSession admits the caller as player B and activates the session.
// All checks complete before any field is written: a rejected join leaves
// the session exactly as it was.
func (c *Coordinator) JoinSession(caller crypto.Principal, id uint32, claim PlayerClaim, proof *groth16.Proof) error {
	s, found, err := c.store.Get(id)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !found {
		return ErrSessionNotFound
	}
	if s.State != Waiting {
		return fmt.Errorf("%w: join requires waiting, session is %s", ErrStateViolation, s.State)
	}
	if caller == s.PlayerA {
		return ErrSelfJoin
	}
	if err := c.admitClaim(claim, proof); err != nil {
		return err
	}

	s.PlayerB = caller
	s.ClaimB = claim
	s.State = Active
	if err := c.store.Put(s, c.clock.Current()+c.ttl); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	if err := c.notifier.NotifyStart(id, s.PlayerA, s.PlayerB, big.NewInt(0), big.NewInt(0)); err != nil {
		// The collaborator must not revert the committed transition.
		c.log.Error().Err(err).Uint32("session", id).Msg("start notification failed")
	}
	c.log.Info().Uint32("session", id).Str("player_b", caller.String()).Msg("session active")
	return nil
}

// ResolveMatch ends an Active session and reports the outcome. Either
// participant may resolve; the winner is player A iff the claims match.
func (c *Coordinator) ResolveMatch(caller crypto.Principal, id uint32) (MatchResult, error) {
	s, found, err := c.store.Get(id)
	if err != nil {
		return MatchResult{}, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return MatchResult{}, ErrSessionNotFound
	}
	if s.State != Active {
		return MatchResult{}, fmt.Errorf("%w: resolve requires active, session is %s", ErrStateViolation, s.State)
	}
	if caller != s.PlayerA && caller != s.PlayerB {
		return MatchResult{}, ErrNotParticipant
	}

	matched := c.predicate(s.ClaimA, s.ClaimB)
	result := MatchResult{Matched: matched, Winner: s.PlayerB}
	if matched {
		result.Winner = s.PlayerA
	}

	s.State = Ended
	if err := c.store.Put(s, c.clock.Current()+c.ttl); err != nil {
		return MatchResult{}, fmt.Errorf("store session: %w", err)
	}

	if err := c.notifier.NotifyEnd(id, matched); err != nil {
		c.log.Error().Err(err).Uint32("session", id).Msg("end notification failed")
	}
	c.log.Info().Uint32("session", id).Bool("matched", matched).Msg("session ended")
	return result, nil
}

// GetSession is the read accessor for the presentation boundary.
func (c *Coordinator) GetSession(id uint32) (Session, error) {
	s, found, err := c.store.Get(id)
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

// admitClaim runs the jurisdiction gate and, when a proof is supplied, the
// cryptographic gate. Policy is consulted on every admission; the proof is
// optional per claim.
func (c *Coordinator) admitClaim(claim PlayerClaim, proof *groth16.Proof) error {
	allowed, err := c.policy.IsAllowed(claim.Code)
	if err != nil {
		return fmt.Errorf("policy check: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: code %d", ErrPolicyDenied, claim.Code)
	}
	if proof == nil {
		return nil
	}
	if c.verifier == nil {
		return fmt.Errorf("%w: no verifier configured", ErrProofRejected)
	}
	if err := c.verifier.Verify(proof, groth16.PublicBinding{CellID: claim.Cell}); err != nil {
		return fmt.Errorf("%w: %w", ErrProofRejected, err)
	}
	return nil
}
