package exchange

import "context"

// SessionGate resolves who is exchanging and whether they may.
type SessionGate interface {
	ResolveActiveAccount(ctx context.Context, caller Caller) (AccountID, error)
	SelectedCharacter(ctx context.Context, account AccountID) (CharacterID, error)
	ValidateState(ctx context.Context, characterID CharacterID, required WorldState) error
}

type AmuletLedger interface {
	DepositAmulet(ctx context.Context, account AccountID, id AmuletID) error
	WithdrawAmulet(ctx context.Context, account AccountID, id AmuletID) error
}

type FilledAmuletLedger interface {
	DepositFilledAmulet(ctx context.Context, account AccountID, id AmuletID) error
	WithdrawFilledAmulet(ctx context.Context, account AccountID, id AmuletID) error
}

type CurrencyLedger interface {
	DepositCurrency(ctx context.Context, account AccountID, kind CurrencyKind, amount int64) error
	WithdrawCurrency(ctx context.Context, account AccountID, kind CurrencyKind, amount int64) error
}

type ItemLedger interface {
	DepositItem(ctx context.Context, account AccountID, id ItemID, quantity int64) error
	WithdrawItem(ctx context.Context, account AccountID, id ItemID, quantity int64) error
}

type ShipLedger interface {
	DepositShip(ctx context.Context, account AccountID, id ShipID) error
	WithdrawShip(ctx context.Context, account AccountID, id ShipID) error
}

// Ledger is the custodial ledger gateway. Withdrawals fail with
// ErrInsufficientCustody when the account has nothing to release.
type Ledger interface {
	AmuletLedger
	FilledAmuletLedger
	CurrencyLedger
	ItemLedger
	ShipLedger
}

// AmuletRegistry stores amulet records. Amulets are created outside the
// exchange; operations on unknown ids fail.
type AmuletRegistry interface {
	Get(ctx context.Context, id AmuletID) (*Amulet, error)
	// SetOwner fails with ErrAlreadyOwned when the amulet has an owner.
	SetOwner(ctx context.Context, id AmuletID, characterID CharacterID) error
	ClearOwner(ctx context.Context, id AmuletID) error
}

// ShipRegistry stores ship ownership. A character has a single ship slot.
type ShipRegistry interface {
	Owner(ctx context.Context, id ShipID) (CharacterID, bool, error)
	ShipOf(ctx context.Context, characterID CharacterID) (ShipID, bool, error)
	// SetShip fails with ErrShipSlotOccupied when the slot is not empty and
	// with ErrAlreadyOwned when another character holds the ship.
	SetShip(ctx context.Context, characterID CharacterID, id ShipID) error
	ClearShip(ctx context.Context, characterID CharacterID) error
}

type InventoryStore interface {
	AddAmulet(ctx context.Context, characterID CharacterID, id AmuletID) error
	// RemoveAmulet fails with ErrAssetNotHeld when the amulet is absent.
	RemoveAmulet(ctx context.Context, characterID CharacterID, id AmuletID) error
	AmuletIDs(ctx context.Context, characterID CharacterID) ([]AmuletID, error)
}

type BeltStore interface {
	Add(ctx context.Context, characterID CharacterID, id AmuletID) error
	// Remove fails with ErrAssetNotHeld when the amulet is absent.
	Remove(ctx context.Context, characterID CharacterID, id AmuletID) error
	IsOverflowing(ctx context.Context, characterID CharacterID) (bool, error)
	AmuletIDs(ctx context.Context, characterID CharacterID) ([]AmuletID, error)
}

type ItemStore interface {
	// Add fails with ErrQuantityOverflow when the stack would exceed MaxInt64.
	Add(ctx context.Context, characterID CharacterID, id ItemID, quantity int64) error
	// Deduct fails with ErrInsufficientItems instead of going below zero.
	Deduct(ctx context.Context, characterID CharacterID, id ItemID, quantity int64) error
	Quantity(ctx context.Context, characterID CharacterID, id ItemID) (int64, error)
}

type CurrencyStore interface {
	// Add fails with ErrQuantityOverflow when the balance would exceed MaxInt64.
	Add(ctx context.Context, characterID CharacterID, kind CurrencyKind, amount int64) error
	// Deduct fails with ErrInsufficientBalance instead of going below zero.
	Deduct(ctx context.Context, characterID CharacterID, kind CurrencyKind, amount int64) error
	Balance(ctx context.Context, characterID CharacterID, kind CurrencyKind) (int64, error)
}

// Stores exposes every collaborator bound to one unit of work.
type Stores interface {
	Session() SessionGate
	Ledger() Ledger
	Amulets() AmuletRegistry
	Ships() ShipRegistry
	Inventory() InventoryStore
	Belt() BeltStore
	Items() ItemStore
	Currencies() CurrencyStore
}

// Transactor runs fn as a single atomic unit of work. If fn returns an
// error nothing it did is kept.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error
}
