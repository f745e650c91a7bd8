package postgres

import (
	"context"
	"fmt"

	"github.com/cognizanttrust/chain-reconciler/internal/domain/model"
)

// SettingsRepo manages the singleton automation settings row. The table is
// keyed by a fixed id so there is exactly one row; Get lazily seeds it with
// defaults on first read.
type SettingsRepo struct {
	db *DB
}

func NewSettingsRepo(db *DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

func (r *SettingsRepo) Get(ctx context.Context) (*model.AutoSettings, error) {
	var s model.AutoSettings
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO auto_settings (id) VALUES (1)
		ON CONFLICT (id) DO UPDATE SET id = auto_settings.id
		RETURNING automatic_mode, credentials_configured, max_auto_amount,
			session_ttl_minutes, last_auto_session, updated_at
	`).Scan(
		&s.AutomaticMode, &s.CredentialsConfigured, &s.MaxAutoAmount,
		&s.SessionTTLMinutes, &s.LastAutoSession, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

func (r *SettingsRepo) SetAutomaticMode(ctx context.Context, enabled bool) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE auto_settings SET automatic_mode = $1, updated_at = now() WHERE id = 1
	`, enabled); err != nil {
		return fmt.Errorf("set automatic mode: %w", err)
	}
	return nil
}

func (r *SettingsRepo) SetCredentialsConfigured(ctx context.Context, configured bool) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE auto_settings SET credentials_configured = $1, updated_at = now() WHERE id = 1
	`, configured); err != nil {
		return fmt.Errorf("set credentials configured: %w", err)
	}
	return nil
}

func (r *SettingsRepo) TouchAutoSession(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE auto_settings SET last_auto_session = now(), updated_at = now() WHERE id = 1
	`); err != nil {
		return fmt.Errorf("touch auto session: %w", err)
	}
	return nil
}
