// Package ledgertime provides the logical time base for the matchmaking
// core. There is no wall clock anywhere in the core: every timestamp is a
// Seq, an opaque strictly increasing sequence number supplied by the host.
package ledgertime

// Seq is a logical sequence number. Seqs are totally ordered and strictly
// increase between committed state transitions.
type Seq uint64

// Before reports whether s precedes u.
func (s Seq) Before(u Seq) bool {
	return s < u
}

// After reports whether s follows u.
func (s Seq) After(u Seq) bool {
	return s > u
}

// Clock supplies the current logical sequence number. Implementations must
// return strictly increasing values across committed calls.
type Clock interface {
	Current() Seq
}

// Counter is an in-process Clock backed by a plain counter. The host
// serializes all state transitions, so no synchronization is needed.
type Counter struct {
	seq Seq
}

// NewCounter returns a Counter starting at the given sequence number.
func NewCounter(start Seq) *Counter {
	return &Counter{seq: start}
}

// Current returns the current sequence number.
func (c *Counter) Current() Seq {
	return c.seq
}

// Advance moves the counter forward by one and returns the new value.
func (c *Counter) Advance() Seq {
	c.seq++
	return c.seq
}
