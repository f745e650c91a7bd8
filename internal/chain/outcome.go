package chain

// OutcomeStatus is the tri-state result of a receipt lookup. StillPending is
// not a failure; it means the chain has not yet disclosed the outcome.
type OutcomeStatus string

const (
	OutcomeSuccess      OutcomeStatus = "success"
	OutcomeFailed       OutcomeStatus = "failed"
	OutcomeStillPending OutcomeStatus = "still_pending"
)

func (s OutcomeStatus) String() string {
	return string(s)
}

// Outcome is the resolved state of a broadcast transaction.
type Outcome struct {
	Status      OutcomeStatus
	TxRef       string
	BlockNumber int64
	GasUsed     int64
}
