package exchange

// Caller is the verified identity of whoever issued an exchange request,
// e.g. the uid of a verified ID token.
type Caller string

// AccountID identifies an account linked to the custodial ledger.
type AccountID string

type CharacterID int64

type AmuletID int64

type ShipID int64

type ItemID int64

// WorldState is the coarse operability tag of a character.
type WorldState string

const (
	WorldStateOpen       WorldState = "open_world"
	WorldStateCombat     WorldState = "combat"
	WorldStateTravelling WorldState = "travelling"
)

// CurrencyKind names one of the fungible currencies.
type CurrencyKind string

const (
	CurrencyRunix CurrencyKind = "runix"
	CurrencyOnyx  CurrencyKind = "onyx"
)

// AssetClass names the exchange channel an asset moves through.
type AssetClass string

const (
	AssetClassAmulet       AssetClass = "amulet"
	AssetClassFilledAmulet AssetClass = "filled_amulet"
	AssetClassCurrency     AssetClass = "currency"
	AssetClassItem         AssetClass = "item"
	AssetClassShip         AssetClass = "ship"
)

// Unique reports whether assets of the class exist at most once.
func (c AssetClass) Unique() bool {
	switch c {
	case AssetClassAmulet, AssetClassFilledAmulet, AssetClassShip:
		return true
	default:
		return false
	}
}

// Amulet is a registry record.
type Amulet struct {
	ID        AmuletID
	Owner     *CharacterID
	Soulbound bool
	// Payload is non-zero when the amulet is filled.
	Payload int64
}

func (a Amulet) Filled() bool {
	return a.Payload != 0
}

// CurrencyExchange holds the four currency legs of a single call.
// A zero amount skips that leg.
type CurrencyExchange struct {
	DepositRunix  int64 `json:"deposit_runix"`
	WithdrawRunix int64 `json:"withdraw_runix"`
	DepositOnyx   int64 `json:"deposit_onyx"`
	WithdrawOnyx  int64 `json:"withdraw_onyx"`
}

// ItemExchange holds parallel id/quantity sequences: DepositIDs[i] pairs
// with DepositQuantities[i].
type ItemExchange struct {
	DepositIDs         []ItemID `json:"deposit_ids"`
	DepositQuantities  []int64  `json:"deposit_quantities"`
	WithdrawIDs        []ItemID `json:"withdraw_ids"`
	WithdrawQuantities []int64  `json:"withdraw_quantities"`
}
