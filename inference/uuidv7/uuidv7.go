// Package uuidv7 generates UUID-v7 identifiers for episodes and inferences
// and provides the freshness check the dispatcher applies to
// client-supplied episode IDs. IDs are not checked for monotonicity.
package uuidv7

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New generates a new UUID-v7, monotonic within the resolution guaranteed
// by github.com/google/uuid's NewV7 (sub-millisecond ordering via its
// internal monotonic counter).
func New() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("uuidv7: generate: %w", err)
	}
	return id, nil
}

// MustNew panics if generation fails. Generation only fails if the
// process's entropy source is broken, which callers treat as fatal.
func MustNew() uuid.UUID {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}

// Timestamp extracts the embedded creation time from a UUID-v7 value.
func Timestamp(id uuid.UUID) (time.Time, error) {
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec), nil
}

// ValidateFreshness rejects a client-supplied UUID-v7 whose embedded
// timestamp is in the future, or more than maxSlack behind now, per
// dispatcher step 5: "Reject client-supplied IDs whose timestamp is in the
// future or more than a configured slack behind the present."
func ValidateFreshness(id uuid.UUID, now time.Time, maxSlack time.Duration) error {
	if id.Version() != 7 {
		return fmt.Errorf("uuidv7: episode id is not a v7 UUID")
	}
	ts, err := Timestamp(id)
	if err != nil {
		return err
	}
	if ts.After(now) {
		return fmt.Errorf("uuidv7: episode id timestamp %s is in the future (now=%s)", ts, now)
	}
	if now.Sub(ts) > maxSlack {
		return fmt.Errorf("uuidv7: episode id timestamp %s is more than %s behind now (now=%s)", ts, maxSlack, now)
	}
	return nil
}

// After reports whether a was generated no earlier than b, used by tests
// asserting the "inference_id > episode_id or equal on the first inference
// of an episode" invariant.
func After(a, b uuid.UUID) bool {
	ta, err := Timestamp(a)
	if err != nil {
		return false
	}
	tb, err := Timestamp(b)
	if err != nil {
		return false
	}
	return !ta.Before(tb)
}
