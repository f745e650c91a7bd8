package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecordKind identifies which ledger entry a record represents. The set is
// closed; the recorder dispatches contract calldata on it.
type RecordKind string

const (
	KindDonation RecordKind = "donation"
	KindSpending RecordKind = "spending"
)

func (k RecordKind) String() string {
	return string(k)
}

// ChainStatus is the coarse on-chain confirmation state of a record.
type ChainStatus string

const (
	StatusPending  ChainStatus = "pending"
	StatusRecorded ChainStatus = "recorded"
)

func (s ChainStatus) String() string {
	return string(s)
}

// Record is a donation or spending entry awaiting on-chain confirmation.
//
// State machine: pending with no attempted ref (never submitted, or a prior
// attempt was confirmed-failed and cleared) → pending with an attempted ref
// (outcome unknown, awaiting verification) → recorded (terminal). There is no
// permanent-failure state; every non-success path returns the record to a
// retryable shape.
type Record struct {
	ID   uuid.UUID  `db:"id"`
	Kind RecordKind `db:"kind"`

	Amount decimal.Decimal `db:"amount"`

	// Donation payload.
	DonorName   string `db:"donor_name"`
	Purpose     string `db:"purpose"`
	ReferenceID string `db:"reference_id"`

	// Spending payload.
	Title         string `db:"title"`
	Category      string `db:"category"`
	Beneficiaries string `db:"beneficiaries"`

	ChainStatus    ChainStatus `db:"chain_status"`
	AttemptedTxRef *string     `db:"attempted_tx_ref"`
	ConfirmedTxRef *string     `db:"confirmed_tx_ref"`
	SignerAddress  *string     `db:"signer_address"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NeverAttempted reports whether the record has no submission in flight and
// no confirmed outcome, i.e. it is eligible for (re)submission.
func (r *Record) NeverAttempted() bool {
	return r.ChainStatus == StatusPending && r.AttemptedTxRef == nil
}

// AwaitingVerification reports whether the record has a broadcast attempt
// whose final outcome is still unknown.
func (r *Record) AwaitingVerification() bool {
	return r.ChainStatus == StatusPending && r.AttemptedTxRef != nil
}

// Recorded reports whether the record reached its terminal confirmed state.
func (r *Record) Recorded() bool {
	return r.ChainStatus == StatusRecorded
}
