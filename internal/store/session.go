package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/geotrust/geomatch/internal/ledgertime"
	"github.com/geotrust/geomatch/internal/safemath"
	"github.com/geotrust/geomatch/internal/session"
	"github.com/geotrust/geomatch/pkg/db"
)

// Sessions persists matchmaking sessions with a TTL. Implements
// session.Store.
type Sessions struct {
	*Timed
}

func NewSessions(kv db.KVStore) *Sessions {
	return &Sessions{Timed: NewTimed(kv)}
}

// NextID allocates the next session id. The counter increment is
// overflow-checked; ids are never reused.
func (s *Sessions) NextID() (uint32, error) {
	key := makeMetaKey(metaNextSessionID)
	var current uint32
	found, err := s.Has(key)
	if err != nil {
		return 0, fmt.Errorf("check session counter: %w", err)
	}
	if found {
		raw, err := s.Timed.Get(key)
		if err != nil {
			return 0, fmt.Errorf("get session counter: %w", err)
		}
		if len(raw) != 4 {
			return 0, fmt.Errorf("corrupt session counter: %d bytes", len(raw))
		}
		current = binary.BigEndian.Uint32(raw)
	}
	next, ok := safemath.Add32(current, 1)
	if !ok {
		return 0, fmt.Errorf("%w: counter at %d", session.ErrIDExhausted, math.MaxUint32)
	}
	raw := make([]byte, 4)
	binary.BigEndian.PutUint32(raw, next)
	if err := s.Timed.Put(key, raw); err != nil {
		return 0, fmt.Errorf("put session counter: %w", err)
	}
	return next, nil
}

// Get retrieves a session by id, reporting whether it exists.
func (s *Sessions) Get(id uint32) (session.Session, bool, error) {
	raw, found, err := s.GetTimed(makeU32Key(prefixSession, id))
	if err != nil {
		return session.Session{}, false, fmt.Errorf("get session: %w", err)
	}
	if !found {
		return session.Session{}, false, nil
	}
	var sess session.Session
	if err := cbor.Unmarshal(raw, &sess); err != nil {
		return session.Session{}, false, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess, true, nil
}

// Put stores a session, refreshing its expiry.
func (s *Sessions) Put(sess session.Session, expiresAt ledgertime.Seq) error {
	raw, err := cbor.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.PutWithExpiry(makeU32Key(prefixSession, sess.ID), raw, expiresAt); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}
