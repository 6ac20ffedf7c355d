// Package session implements the two-party matchmaking state machine. A
// session moves Waiting → Active → Ended and never backward; every check
// completes before the first write, which is the only atomicity mechanism
// the execution model provides.
package session

import (
	"math/big"

	"github.com/geotrust/geomatch/internal/crypto"
	"github.com/geotrust/geomatch/internal/ledgertime"
	"github.com/geotrust/geomatch/internal/safemath"
)

// State is the session lifecycle phase. Observed over time it is
// non-decreasing under Waiting < Active < Ended.
type State uint8

const (
	Waiting State = iota
	Active
	Ended
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Active:
		return "active"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// AssetTag groups players by the asset they are matching over. Two players
// only match when their tags agree.
type AssetTag [32]byte

// PlayerClaim is one player's plaintext matchmaking claim.
type PlayerClaim struct {
	Cell uint32
	Code uint32
	Tag  AssetTag
}

// Session is the persistent matchmaking record. PlayerB is unset (zero)
// while the session is Waiting.
type Session struct {
	ID        uint32
	State     State
	PlayerA   crypto.Principal
	PlayerB   crypto.Principal
	ClaimA    PlayerClaim
	ClaimB    PlayerClaim
	CreatedAt ledgertime.Seq
}

// MatchResult is the outcome of resolving an Active session.
type MatchResult struct {
	Matched bool
	Winner  crypto.Principal
}

// Notifier is the boundary to the external GameHub collaborator. Calls are
// fire-and-forget: a notifier failure is logged by the coordinator and
// never reverts the session transition that triggered it.
type Notifier interface {
	NotifyStart(sessionID uint32, playerA, playerB crypto.Principal, scoreA, scoreB *big.Int) error
	NotifyEnd(sessionID uint32, outcome bool) error
}

// NoopNotifier satisfies Notifier without an external collaborator.
type NoopNotifier struct{}

func (NoopNotifier) NotifyStart(uint32, crypto.Principal, crypto.Principal, *big.Int, *big.Int) error {
	return nil
}

func (NoopNotifier) NotifyEnd(uint32, bool) error {
	return nil
}

// MatchPredicate decides whether two claims constitute a match. The
// proximity policy is a configuration point, not a constant.
type MatchPredicate func(a, b PlayerClaim) bool

// AdjacentCells matches claims with equal asset tags whose cells are the
// same or neighbours. Cell distance uses overflow-safe arithmetic since
// the inputs are caller-controlled.
func AdjacentCells(a, b PlayerClaim) bool {
	if a.Tag != b.Tag {
		return false
	}
	return safemath.AbsDiff32(a.Cell, b.Cell) <= 1
}

// Store is the persistence surface the coordinator requires. Implemented
// by store.Sessions.
type Store interface {
	// NextID allocates the next session id with an overflow-checked
	// increment of the persisted counter.
	NextID() (uint32, error)
	Get(id uint32) (Session, bool, error)
	Put(s Session, expiresAt ledgertime.Seq) error
}
