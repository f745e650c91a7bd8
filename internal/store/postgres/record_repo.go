package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/cognizanttrust/chain-reconciler/internal/domain/model"
	"github.com/cognizanttrust/chain-reconciler/internal/store"
)

const recordColumns = `id, kind, amount, donor_name, purpose, reference_id,
	title, category, beneficiaries,
	chain_status, attempted_tx_ref, confirmed_tx_ref, signer_address,
	created_at, updated_at`

type RecordRepo struct {
	db *DB
}

func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

func (r *RecordRepo) Get(ctx context.Context, id uuid.UUID) (*model.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE id = $1
	`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (r *RecordRepo) Create(ctx context.Context, rec *model.Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.ChainStatus == "" {
		rec.ChainStatus = model.StatusPending
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO records (id, kind, amount, donor_name, purpose, reference_id,
			title, category, beneficiaries, chain_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, rec.ID, rec.Kind, rec.Amount, rec.DonorName, rec.Purpose, rec.ReferenceID,
		rec.Title, rec.Category, rec.Beneficiaries, rec.ChainStatus,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

func (r *RecordRepo) ListNeverAttempted(ctx context.Context, limit int) ([]*model.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE chain_status = $1 AND attempted_tx_ref IS NULL
		ORDER BY created_at ASC
		LIMIT $2
	`, model.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list never attempted: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (r *RecordRepo) ListAwaitingVerification(ctx context.Context, limit int) ([]*model.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE chain_status = $1 AND attempted_tx_ref IS NOT NULL
		ORDER BY created_at ASC
		LIMIT $2
	`, model.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list awaiting verification: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// MarkAttempted stamps the broadcast tx reference on a record only if it is
// still pending and has never been attempted. The WHERE clause is the guard:
// a concurrent worker that already stamped the record makes this a no-op.
func (r *RecordRepo) MarkAttempted(ctx context.Context, id uuid.UUID, txRef, signer string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE records
		SET attempted_tx_ref = $2, signer_address = $3, updated_at = now()
		WHERE id = $1 AND chain_status = $4 AND attempted_tx_ref IS NULL
	`, id, txRef, signer, model.StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark attempted: %w", err)
	}
	return oneRowApplied(res)
}

// MarkRecorded promotes a pending record to recorded. The confirming tx
// reference is stamped on both columns so the attempt that succeeded stays
// visible after promotion.
func (r *RecordRepo) MarkRecorded(ctx context.Context, id uuid.UUID, txRef, signer string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE records
		SET chain_status = $2, confirmed_tx_ref = $3, attempted_tx_ref = $3,
			signer_address = $4, updated_at = now()
		WHERE id = $1 AND chain_status = $5
	`, id, model.StatusRecorded, txRef, signer, model.StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark recorded: %w", err)
	}
	return oneRowApplied(res)
}

// ClearAttempt wipes a confirmed-failed attempt so the record becomes
// eligible for resubmission. It applies only while the record still carries
// the same tx reference; a newer attempt is left untouched.
func (r *RecordRepo) ClearAttempt(ctx context.Context, id uuid.UUID, txRef string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE records
		SET attempted_tx_ref = NULL, updated_at = now()
		WHERE id = $1 AND chain_status = $2 AND attempted_tx_ref = $3
	`, id, model.StatusPending, txRef)
	if err != nil {
		return false, fmt.Errorf("clear attempt: %w", err)
	}
	return oneRowApplied(res)
}

func (r *RecordRepo) Counts(ctx context.Context) (store.RecordCounts, error) {
	var c store.RecordCounts
	err := r.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE chain_status = $1 AND attempted_tx_ref IS NULL),
			count(*) FILTER (WHERE chain_status = $1 AND attempted_tx_ref IS NOT NULL),
			count(*) FILTER (WHERE chain_status = $2)
		FROM records
	`, model.StatusPending, model.StatusRecorded).Scan(
		&c.Pending, &c.AwaitingVerification, &c.Recorded,
	)
	if err != nil {
		return store.RecordCounts{}, fmt.Errorf("count records: %w", err)
	}
	return c, nil
}

func oneRowApplied(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	var rec model.Record
	err := row.Scan(
		&rec.ID, &rec.Kind, &rec.Amount, &rec.DonorName, &rec.Purpose, &rec.ReferenceID,
		&rec.Title, &rec.Category, &rec.Beneficiaries,
		&rec.ChainStatus, &rec.AttemptedTxRef, &rec.ConfirmedTxRef, &rec.SignerAddress,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*model.Record, error) {
	var out []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
