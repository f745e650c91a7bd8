package recorder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/cognizanttrust/chain-reconciler/internal/domain/model"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Donation and spending entries go to different contracts with different
// call shapes, but share the submission protocol. Each kind gets a call
// builder; the recorder dispatches on record kind.

const donationABIJSON = `[{
	"inputs": [
		{"internalType": "string", "name": "donorName", "type": "string"},
		{"internalType": "uint256", "name": "amount", "type": "uint256"},
		{"internalType": "string", "name": "purpose", "type": "string"},
		{"internalType": "string", "name": "upiRefId", "type": "string"},
		{"internalType": "address", "name": "adminWallet", "type": "address"}
	],
	"name": "recordTransaction",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

const spendingABIJSON = `[{
	"inputs": [
		{"internalType": "uint256", "name": "amount", "type": "uint256"},
		{"internalType": "uint8", "name": "categoryId", "type": "uint8"}
	],
	"name": "recordSpending",
	"outputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

var (
	donationABI = mustParseABI(donationABIJSON)
	spendingABI = mustParseABI(spendingABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse contract abi: %v", err))
	}
	return parsed
}

// spendingCategoryIDs maps welfare categories to the compact ids the
// spending contract expects. Unknown categories fall through to "other".
var spendingCategoryIDs = map[string]uint8{
	"education":         0,
	"healthcare":        1,
	"food_distribution": 2,
	"shelter":           3,
	"disaster_relief":   4,
	"elderly_care":      5,
	"child_welfare":     6,
	"skill_development": 7,
	"sanitation":        8,
	"other":             9,
}

const otherCategoryID uint8 = 9

const (
	donationFallbackGas = 500_000
	spendingFallbackGas = 200_000
)

// contractCall is one kind-specific record-creation call.
type contractCall interface {
	CallData() ([]byte, error)
	ContractAddress() common.Address
	FallbackGasLimit() uint64
}

type donationCall struct {
	record   *model.Record
	signer   common.Address
	contract common.Address
}

func (c *donationCall) CallData() ([]byte, error) {
	data, err := donationABI.Pack("recordTransaction",
		c.record.DonorName,
		amountToPaise(c.record.Amount),
		c.record.Purpose,
		c.record.ReferenceID,
		c.signer,
	)
	if err != nil {
		return nil, fmt.Errorf("pack recordTransaction: %w", err)
	}
	return data, nil
}

func (c *donationCall) ContractAddress() common.Address {
	return c.contract
}

func (c *donationCall) FallbackGasLimit() uint64 {
	return donationFallbackGas
}

type spendingCall struct {
	record   *model.Record
	contract common.Address
}

func (c *spendingCall) CallData() ([]byte, error) {
	categoryID, ok := spendingCategoryIDs[c.record.Category]
	if !ok {
		categoryID = otherCategoryID
	}
	data, err := spendingABI.Pack("recordSpending",
		amountToPaise(c.record.Amount),
		categoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("pack recordSpending: %w", err)
	}
	return data, nil
}

func (c *spendingCall) ContractAddress() common.Address {
	return c.contract
}

func (c *spendingCall) FallbackGasLimit() uint64 {
	return spendingFallbackGas
}

func (r *Recorder) buildCall(rec *model.Record, signer common.Address) (contractCall, error) {
	switch rec.Kind {
	case model.KindDonation:
		if r.cfg.DonationContract == "" {
			return nil, fmt.Errorf("no donation contract address configured")
		}
		return &donationCall{
			record:   rec,
			signer:   signer,
			contract: common.HexToAddress(r.cfg.DonationContract),
		}, nil
	case model.KindSpending:
		if r.cfg.SpendingContract == "" {
			return nil, fmt.Errorf("no spending contract address configured")
		}
		return &spendingCall{
			record:   rec,
			contract: common.HexToAddress(r.cfg.SpendingContract),
		}, nil
	default:
		return nil, fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}

// amountToPaise converts a rupee amount to its smallest unit, truncating any
// sub-paise fraction.
func amountToPaise(amount decimal.Decimal) *big.Int {
	return amount.Shift(2).Truncate(0).BigInt()
}
