package exchange

import (
	"time"

	"github.com/google/uuid"
)

// Operation names an exchange entry point.
type Operation string

const (
	OperationAmulets       Operation = "amulets"
	OperationFilledAmulets Operation = "filled_amulets"
	OperationCurrencies    Operation = "currencies"
	OperationItems         Operation = "items"
	OperationShips         Operation = "ships"
)

// ReceiptLine is one asset movement within a committed exchange.
type ReceiptLine struct {
	Class    AssetClass   `json:"class"`
	ID       int64        `json:"id,omitempty"`
	Currency CurrencyKind `json:"currency,omitempty"`
	Quantity int64        `json:"quantity"`
}

// Receipt describes a committed exchange. Receipts only exist for calls
// whose unit of work committed.
type Receipt struct {
	ID          string        `json:"id"`
	Operation   Operation     `json:"operation"`
	AccountID   AccountID     `json:"account_id"`
	CharacterID CharacterID   `json:"character_id"`
	Deposits    []ReceiptLine `json:"deposits"`
	Withdrawals []ReceiptLine `json:"withdrawals"`
	CommittedAt time.Time     `json:"committed_at"`
}

func newReceipt(op Operation) *Receipt {
	return &Receipt{
		ID:          uuid.NewString(),
		Operation:   op,
		Deposits:    []ReceiptLine{},
		Withdrawals: []ReceiptLine{},
	}
}

func (r *Receipt) deposited(line ReceiptLine) {
	r.Deposits = append(r.Deposits, line)
}

func (r *Receipt) withdrew(line ReceiptLine) {
	r.Withdrawals = append(r.Withdrawals, line)
}
