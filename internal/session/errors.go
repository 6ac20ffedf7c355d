package session

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStateViolation  = errors.New("session is in the wrong state")
	ErrSelfJoin        = errors.New("session creator cannot join its own session")
	ErrNotParticipant  = errors.New("caller is not a session participant")
	ErrPolicyDenied    = errors.New("jurisdiction not permitted")
	ErrProofRejected   = errors.New("location proof rejected")
	ErrIDExhausted     = errors.New("session id space exhausted")
)
