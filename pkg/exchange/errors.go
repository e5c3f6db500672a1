package exchange

import (
	"errors"
	"fmt"
)

// Code is a machine-readable failure kind.
type Code string

const (
	CodeUnlinkedAccount     Code = "UNLINKED_ACCOUNT"
	CodeInvalidWorldState   Code = "INVALID_WORLD_STATE"
	CodeSoulboundAmulet     Code = "SOULBOUND_AMULET"
	CodeNotOwner            Code = "NOT_OWNER"
	CodeAmuletNotEmpty      Code = "AMULET_NOT_EMPTY"
	CodeAmuletNotFilled     Code = "AMULET_NOT_FILLED"
	CodeBeltOverflow        Code = "BELT_OVERFLOW"
	CodeBeltEmpty           Code = "BELT_EMPTY"
	CodeTooManyShips        Code = "TOO_MANY_SHIPS"
	CodeInsufficientCustody Code = "INSUFFICIENT_CUSTODY"
	CodeAlreadyInCustody    Code = "ALREADY_IN_CUSTODY"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientItems   Code = "INSUFFICIENT_ITEMS"
	CodeAssetNotHeld        Code = "ASSET_NOT_HELD"
	CodeShipSlotOccupied    Code = "SHIP_SLOT_OCCUPIED"
	CodeMismatchedItems     Code = "MISMATCHED_ITEMS"
	CodeInvalidQuantity     Code = "INVALID_QUANTITY"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeQuantityOverflow    Code = "QUANTITY_OVERFLOW"
	CodeAlreadyOwned        Code = "ALREADY_OWNED"
)

// Error is a call-aborting exchange failure. Only the fields relevant to
// the Code are set.
type Error struct {
	Code        Code         `json:"code"`
	CharacterID CharacterID  `json:"character_id,omitempty"`
	Class       AssetClass   `json:"asset_class,omitempty"`
	AssetID     int64        `json:"asset_id,omitempty"`
	Currency    CurrencyKind `json:"currency,omitempty"`
	Deposits    int          `json:"deposits,omitempty"`
	Withdrawals int          `json:"withdrawals,omitempty"`
	WorldState  WorldState   `json:"world_state,omitempty"`
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeUnlinkedAccount:
		return "no linked account is active"
	case CodeInvalidWorldState:
		return fmt.Sprintf("character %d is in world state %q", e.CharacterID, e.WorldState)
	case CodeSoulboundAmulet:
		return fmt.Sprintf("amulet %d is soulbound", e.AssetID)
	case CodeNotOwner:
		return fmt.Sprintf("character %d does not own %s %d", e.CharacterID, e.Class, e.AssetID)
	case CodeAmuletNotEmpty:
		return fmt.Sprintf("amulet %d is not empty", e.AssetID)
	case CodeAmuletNotFilled:
		return fmt.Sprintf("amulet %d is not filled", e.AssetID)
	case CodeBeltOverflow:
		return fmt.Sprintf("belt of character %d is over capacity", e.CharacterID)
	case CodeBeltEmpty:
		return fmt.Sprintf("belt of character %d is empty", e.CharacterID)
	case CodeTooManyShips:
		return fmt.Sprintf("too many ships: %d deposits, %d withdrawals", e.Deposits, e.Withdrawals)
	case CodeInsufficientCustody:
		return fmt.Sprintf("insufficient custody of %s %d", e.Class, e.AssetID)
	case CodeAlreadyInCustody:
		return fmt.Sprintf("%s %d is already in custody", e.Class, e.AssetID)
	case CodeInsufficientBalance:
		return fmt.Sprintf("insufficient %s balance for character %d", e.Currency, e.CharacterID)
	case CodeInsufficientItems:
		return fmt.Sprintf("insufficient quantity of item %d for character %d", e.AssetID, e.CharacterID)
	case CodeAssetNotHeld:
		return fmt.Sprintf("character %d does not hold %s %d", e.CharacterID, e.Class, e.AssetID)
	case CodeShipSlotOccupied:
		return fmt.Sprintf("character %d already has a ship", e.CharacterID)
	case CodeMismatchedItems:
		return fmt.Sprintf("item ids and quantities differ in length: %d and %d", e.Deposits, e.Withdrawals)
	case CodeInvalidQuantity:
		return fmt.Sprintf("invalid quantity for item %d", e.AssetID)
	case CodeInvalidAmount:
		return fmt.Sprintf("invalid %s amount", e.Currency)
	case CodeQuantityOverflow:
		if e.Class == AssetClassCurrency {
			return fmt.Sprintf("%s amount would overflow", e.Currency)
		}
		return fmt.Sprintf("quantity of %s %d would overflow", e.Class, e.AssetID)
	case CodeAlreadyOwned:
		return fmt.Sprintf("%s %d is owned by character %d", e.Class, e.AssetID, e.CharacterID)
	default:
		return string(e.Code)
	}
}

// Is matches any *Error with the same Code, so the sentinels below can be
// used with errors.Is regardless of parameters.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnlinkedAccount     = &Error{Code: CodeUnlinkedAccount}
	ErrInvalidWorldState   = &Error{Code: CodeInvalidWorldState}
	ErrSoulboundAmulet     = &Error{Code: CodeSoulboundAmulet}
	ErrNotOwner            = &Error{Code: CodeNotOwner}
	ErrAmuletNotEmpty      = &Error{Code: CodeAmuletNotEmpty}
	ErrAmuletNotFilled     = &Error{Code: CodeAmuletNotFilled}
	ErrBeltOverflow        = &Error{Code: CodeBeltOverflow}
	ErrBeltEmpty           = &Error{Code: CodeBeltEmpty}
	ErrTooManyShips        = &Error{Code: CodeTooManyShips}
	ErrInsufficientCustody = &Error{Code: CodeInsufficientCustody}
	ErrAlreadyInCustody    = &Error{Code: CodeAlreadyInCustody}
	ErrInsufficientBalance = &Error{Code: CodeInsufficientBalance}
	ErrInsufficientItems   = &Error{Code: CodeInsufficientItems}
	ErrAssetNotHeld        = &Error{Code: CodeAssetNotHeld}
	ErrShipSlotOccupied    = &Error{Code: CodeShipSlotOccupied}
	ErrMismatchedItems     = &Error{Code: CodeMismatchedItems}
	ErrInvalidQuantity     = &Error{Code: CodeInvalidQuantity}
	ErrInvalidAmount       = &Error{Code: CodeInvalidAmount}
	ErrQuantityOverflow    = &Error{Code: CodeQuantityOverflow}
	ErrAlreadyOwned        = &Error{Code: CodeAlreadyOwned}
)

func UnlinkedAccount() error {
	return &Error{Code: CodeUnlinkedAccount}
}

func InvalidWorldState(characterID CharacterID, state WorldState) error {
	return &Error{Code: CodeInvalidWorldState, CharacterID: characterID, WorldState: state}
}

func SoulboundAmulet(id AmuletID) error {
	return &Error{Code: CodeSoulboundAmulet, Class: AssetClassAmulet, AssetID: int64(id)}
}

func NotOwner(characterID CharacterID, class AssetClass, id int64) error {
	return &Error{Code: CodeNotOwner, CharacterID: characterID, Class: class, AssetID: id}
}

func AmuletNotEmpty(id AmuletID) error {
	return &Error{Code: CodeAmuletNotEmpty, Class: AssetClassAmulet, AssetID: int64(id)}
}

func AmuletNotFilled(id AmuletID) error {
	return &Error{Code: CodeAmuletNotFilled, Class: AssetClassFilledAmulet, AssetID: int64(id)}
}

func BeltOverflow(characterID CharacterID) error {
	return &Error{Code: CodeBeltOverflow, CharacterID: characterID}
}

func BeltEmpty(characterID CharacterID) error {
	return &Error{Code: CodeBeltEmpty, CharacterID: characterID}
}

func TooManyShips(deposits, withdrawals int) error {
	return &Error{Code: CodeTooManyShips, Deposits: deposits, Withdrawals: withdrawals}
}

func InsufficientCustody(class AssetClass, id int64) error {
	return &Error{Code: CodeInsufficientCustody, Class: class, AssetID: id}
}

func AlreadyInCustody(class AssetClass, id int64) error {
	return &Error{Code: CodeAlreadyInCustody, Class: class, AssetID: id}
}

func InsufficientBalance(characterID CharacterID, kind CurrencyKind) error {
	return &Error{Code: CodeInsufficientBalance, CharacterID: characterID, Class: AssetClassCurrency, Currency: kind}
}

func InsufficientItems(characterID CharacterID, id ItemID) error {
	return &Error{Code: CodeInsufficientItems, CharacterID: characterID, Class: AssetClassItem, AssetID: int64(id)}
}

func AssetNotHeld(characterID CharacterID, class AssetClass, id int64) error {
	return &Error{Code: CodeAssetNotHeld, CharacterID: characterID, Class: class, AssetID: id}
}

func ShipSlotOccupied(characterID CharacterID) error {
	return &Error{Code: CodeShipSlotOccupied, CharacterID: characterID, Class: AssetClassShip}
}

// MismatchedItems reports an id sequence whose length differs from its
// quantity sequence. The lengths are carried in Deposits and Withdrawals.
func MismatchedItems(ids, quantities int) error {
	return &Error{Code: CodeMismatchedItems, Class: AssetClassItem, Deposits: ids, Withdrawals: quantities}
}

func InvalidQuantity(id ItemID) error {
	return &Error{Code: CodeInvalidQuantity, Class: AssetClassItem, AssetID: int64(id)}
}

func InvalidAmount(kind CurrencyKind) error {
	return &Error{Code: CodeInvalidAmount, Class: AssetClassCurrency, Currency: kind}
}

func QuantityOverflow(class AssetClass, id int64) error {
	return &Error{Code: CodeQuantityOverflow, Class: class, AssetID: id}
}

func CurrencyOverflow(kind CurrencyKind) error {
	return &Error{Code: CodeQuantityOverflow, Class: AssetClassCurrency, Currency: kind}
}

// AlreadyOwned reports a unique asset that a character already holds in the
// game. CharacterID is the current owner.
func AlreadyOwned(owner CharacterID, class AssetClass, id int64) error {
	return &Error{Code: CodeAlreadyOwned, CharacterID: owner, Class: class, AssetID: id}
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
