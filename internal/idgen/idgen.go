// Package idgen generates the orchestrator's various id and token shapes:
// monotonic task ids, short crypto-random lease tokens, and uuid-based
// event/project ids.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// LeasePrefix is prepended to every generated lease token.
const LeasePrefix = "lease-"

// NewLeaseID returns a fresh 12-hex-char lease token, prefixed. Crypto-random
// rather than uuid because the protocol only needs an unguessable capability
// token, not a globally-unique identifier.
func NewLeaseID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real OS;
		// fall back to a fixed-width zero token rather than panic so a
		// dispatch cycle degrades instead of crashing the loop.
		return LeasePrefix + "000000000000"
	}
	return LeasePrefix + hex.EncodeToString(b)
}

// NewEventID returns a short, unique event identifier.
func NewEventID() string {
	return "evt-" + uuid.New().String()[:8]
}

// NewProjectID returns a unique project identifier.
func NewProjectID() string {
	return "proj-" + uuid.New().String()[:8]
}

// TaskID formats a monotonic, project-scoped task identifier.
func TaskID(n int) string {
	return fmt.Sprintf("task-%03d", n)
}
