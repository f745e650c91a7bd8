// Package session holds the cached unlock passphrase that lets the engine
// re-arm the recorder after a restart without prompting an operator. The
// secret is a time-limited lease in a shared cache, never the key itself.
package session

import (
	"context"
	"time"
)

const secretKey = "reconciler:auto_session_secret"

// Store is a TTL-bounded lease for the session secret. A zero TTL means the
// lease never expires on its own.
type Store interface {
	// Get returns the cached secret and whether one is present.
	Get(ctx context.Context) (string, bool, error)
	// Set stores the secret with the given lifetime, replacing any prior one.
	Set(ctx context.Context, secret string, ttl time.Duration) error
	// Clear removes the secret. Clearing an absent secret is not an error.
	Clear(ctx context.Context) error
}
