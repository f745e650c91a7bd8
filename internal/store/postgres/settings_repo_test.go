package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRepo_Get_SeedsSingletonRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSettingsRepo(db)

	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO auto_settings \(id\) VALUES \(1\)`).
		WillReturnRows(sqlmock.NewRows([]string{
			"automatic_mode", "credentials_configured", "max_auto_amount",
			"session_ttl_minutes", "last_auto_session", "updated_at",
		}).AddRow(true, true, "100000", 30, nil, now))

	s, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, s.AutomaticMode)
	assert.True(t, s.CredentialsConfigured)
	assert.Equal(t, 30, s.SessionTTLMinutes)
	assert.Equal(t, 30*time.Minute, s.SessionTTL())
	assert.Nil(t, s.LastAutoSession)
}

func TestSettingsRepo_SetAutomaticMode(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSettingsRepo(db)

	mock.ExpectExec(`UPDATE auto_settings SET automatic_mode = \$1`).
		WithArgs(false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetAutomaticMode(context.Background(), false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepo_TouchAutoSession(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSettingsRepo(db)

	mock.ExpectExec(`UPDATE auto_settings SET last_auto_session = now\(\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.TouchAutoSession(context.Background()))
}
