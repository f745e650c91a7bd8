package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AutoSettings is the singleton operator configuration row gating the
// reconciliation engine.
type AutoSettings struct {
	AutomaticMode         bool            `db:"automatic_mode"`
	CredentialsConfigured bool            `db:"credentials_configured"`
	MaxAutoAmount         decimal.Decimal `db:"max_auto_amount"`
	SessionTTLMinutes     int             `db:"session_ttl_minutes"`
	LastAutoSession       *time.Time      `db:"last_auto_session"`
	UpdatedAt             time.Time       `db:"updated_at"`
}

// SessionTTL returns the configured session lease duration. Zero means the
// cached session secret never expires on its own.
func (s *AutoSettings) SessionTTL() time.Duration {
	if s.SessionTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(s.SessionTTLMinutes) * time.Minute
}
