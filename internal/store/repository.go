package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/cognizanttrust/chain-reconciler/internal/domain/model"
)

// RecordCounts is a snapshot of the ledger broken down by chain state.
type RecordCounts struct {
	Pending              int64
	AwaitingVerification int64
	Recorded             int64
}

// RecordStore persists donation and spending records. The Mark* methods are
// conditional updates: they apply only when the record is still in the
// expected state and report whether the transition happened, so two workers
// racing on the same record cannot both win.
type RecordStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Record, error)
	Create(ctx context.Context, rec *model.Record) error

	// ListNeverAttempted returns up to limit pending records with no
	// attempted transaction reference, oldest first.
	ListNeverAttempted(ctx context.Context, limit int) ([]*model.Record, error)

	// ListAwaitingVerification returns pending records that carry an
	// attempted transaction reference, oldest first.
	ListAwaitingVerification(ctx context.Context, limit int) ([]*model.Record, error)

	// MarkAttempted stamps the attempted tx reference and signer on a record
	// that is pending and has never been attempted.
	MarkAttempted(ctx context.Context, id uuid.UUID, txRef, signer string) (bool, error)

	// MarkRecorded moves a pending record to its terminal recorded state.
	MarkRecorded(ctx context.Context, id uuid.UUID, txRef, signer string) (bool, error)

	// ClearAttempt wipes the attempted tx reference so the record is picked
	// up again from scratch. It applies only while the record is pending and
	// still carries the given reference.
	ClearAttempt(ctx context.Context, id uuid.UUID, txRef string) (bool, error)

	Counts(ctx context.Context) (RecordCounts, error)
}

// SettingsStore persists the single automation settings row.
type SettingsStore interface {
	Get(ctx context.Context) (*model.AutoSettings, error)
	SetAutomaticMode(ctx context.Context, enabled bool) error
	SetCredentialsConfigured(ctx context.Context, configured bool) error
	TouchAutoSession(ctx context.Context) error
}
