package exchange

import (
	"context"
	"fmt"
)

func validateAmuletOwner(ctx context.Context, amulets AmuletRegistry, id AmuletID, characterID CharacterID) error {
	amulet, err := amulets.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get amulet %d: %w", id, err)
	}
	if amulet.Owner == nil || *amulet.Owner != characterID {
		return NotOwner(characterID, AssetClassAmulet, int64(id))
	}
	return nil
}

func validateAmuletEmpty(ctx context.Context, amulets AmuletRegistry, id AmuletID) error {
	amulet, err := amulets.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get amulet %d: %w", id, err)
	}
	if amulet.Filled() {
		return AmuletNotEmpty(id)
	}
	return nil
}

func validateAmuletFilled(ctx context.Context, amulets AmuletRegistry, id AmuletID) error {
	amulet, err := amulets.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get amulet %d: %w", id, err)
	}
	if !amulet.Filled() {
		return AmuletNotFilled(id)
	}
	return nil
}

func validateShipOwner(ctx context.Context, ships ShipRegistry, id ShipID, characterID CharacterID) error {
	owner, ok, err := ships.Owner(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get owner of ship %d: %w", id, err)
	}
	if !ok || owner != characterID {
		return NotOwner(characterID, AssetClassShip, int64(id))
	}
	return nil
}

func validateItems(ids []ItemID, quantities []int64) error {
	if len(ids) != len(quantities) {
		return MismatchedItems(len(ids), len(quantities))
	}
	for i, q := range quantities {
		if q <= 0 {
			return InvalidQuantity(ids[i])
		}
	}
	return nil
}

func validateCurrencies(req CurrencyExchange) error {
	if req.DepositRunix < 0 || req.WithdrawRunix < 0 {
		return InvalidAmount(CurrencyRunix)
	}
	if req.DepositOnyx < 0 || req.WithdrawOnyx < 0 {
		return InvalidAmount(CurrencyOnyx)
	}
	return nil
}
