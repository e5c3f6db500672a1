package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cbodonnell/flywheel-exchange/pkg/log"
)

// Coordinator moves assets between the custodial ledger and character
// records. Every exported operation runs in exactly one unit of work.
type Coordinator struct {
	transactor  Transactor
	receiptChan chan<- *Receipt
	now         func() time.Time
}

type NewCoordinatorOptions struct {
	Transactor Transactor
	// ReceiptChan receives a receipt for every committed exchange. Sends
	// never block; receipts are dropped when the channel is full.
	ReceiptChan chan<- *Receipt
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(opts NewCoordinatorOptions) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		transactor:  opts.Transactor,
		receiptChan: opts.ReceiptChan,
		now:         now,
	}
}

// ExchangeAmulets withdraws then deposits empty amulets through the inventory.
func (c *Coordinator) ExchangeAmulets(ctx context.Context, caller Caller, deposits, withdrawals []AmuletID) (*Receipt, error) {
	return c.run(ctx, caller, OperationAmulets, func(ctx context.Context, s Stores, r *Receipt) error {
		amulets := s.Amulets()

		for _, id := range withdrawals {
			amulet, err := amulets.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to get amulet %d: %w", id, err)
			}
			if amulet.Soulbound {
				return SoulboundAmulet(id)
			}
			if err := validateAmuletOwner(ctx, amulets, id, r.CharacterID); err != nil {
				return err
			}
			if err := s.Ledger().WithdrawAmulet(ctx, r.AccountID, id); err != nil {
				return err
			}
			if err := validateAmuletEmpty(ctx, amulets, id); err != nil {
				return err
			}
			if err := s.Inventory().RemoveAmulet(ctx, r.CharacterID, id); err != nil {
				return err
			}
			if err := amulets.ClearOwner(ctx, id); err != nil {
				return err
			}
			r.withdrew(ReceiptLine{Class: AssetClassAmulet, ID: int64(id), Quantity: 1})
		}

		for _, id := range deposits {
			if err := s.Ledger().DepositAmulet(ctx, r.AccountID, id); err != nil {
				return err
			}
			if err := amulets.SetOwner(ctx, id, r.CharacterID); err != nil {
				return err
			}
			if err := validateAmuletEmpty(ctx, amulets, id); err != nil {
				return err
			}
			if err := s.Inventory().AddAmulet(ctx, r.CharacterID, id); err != nil {
				return err
			}
			r.deposited(ReceiptLine{Class: AssetClassAmulet, ID: int64(id), Quantity: 1})
		}

		return nil
	})
}

// ExchangeFilledAmulets withdraws then deposits filled amulets through the
// belt. The resulting belt must be non-empty and within capacity.
func (c *Coordinator) ExchangeFilledAmulets(ctx context.Context, caller Caller, deposits, withdrawals []AmuletID) (*Receipt, error) {
	return c.run(ctx, caller, OperationFilledAmulets, func(ctx context.Context, s Stores, r *Receipt) error {
		amulets := s.Amulets()
		belt := s.Belt()

		for _, id := range withdrawals {
			amulet, err := amulets.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to get amulet %d: %w", id, err)
			}
			if amulet.Soulbound {
				return SoulboundAmulet(id)
			}
			if err := validateAmuletOwner(ctx, amulets, id, r.CharacterID); err != nil {
				return err
			}
			if err := s.Ledger().WithdrawFilledAmulet(ctx, r.AccountID, id); err != nil {
				return err
			}
			if err := validateAmuletFilled(ctx, amulets, id); err != nil {
				return err
			}
			if err := belt.Remove(ctx, r.CharacterID, id); err != nil {
				return err
			}
			if err := amulets.ClearOwner(ctx, id); err != nil {
				return err
			}
			r.withdrew(ReceiptLine{Class: AssetClassFilledAmulet, ID: int64(id), Quantity: 1})
		}

		for _, id := range deposits {
			if err := s.Ledger().DepositFilledAmulet(ctx, r.AccountID, id); err != nil {
				return err
			}
			if err := amulets.SetOwner(ctx, id, r.CharacterID); err != nil {
				return err
			}
			if err := validateAmuletFilled(ctx, amulets, id); err != nil {
				return err
			}
			if err := belt.Add(ctx, r.CharacterID, id); err != nil {
				return err
			}
			r.deposited(ReceiptLine{Class: AssetClassFilledAmulet, ID: int64(id), Quantity: 1})
		}

		overflowing, err := belt.IsOverflowing(ctx, r.CharacterID)
		if err != nil {
			return fmt.Errorf("failed to check belt capacity: %w", err)
		}
		if overflowing {
			return BeltOverflow(r.CharacterID)
		}
		ids, err := belt.AmuletIDs(ctx, r.CharacterID)
		if err != nil {
			return fmt.Errorf("failed to list belt: %w", err)
		}
		if len(ids) == 0 {
			return BeltEmpty(r.CharacterID)
		}

		return nil
	})
}

// ExchangeCurrencies applies deposits before withdrawals, Runix before Onyx.
// Zero amounts are skipped.
func (c *Coordinator) ExchangeCurrencies(ctx context.Context, caller Caller, req CurrencyExchange) (*Receipt, error) {
	return c.run(ctx, caller, OperationCurrencies, func(ctx context.Context, s Stores, r *Receipt) error {
		if err := validateCurrencies(req); err != nil {
			return err
		}

		legs := []struct {
			kind    CurrencyKind
			amount  int64
			deposit bool
		}{
			{CurrencyRunix, req.DepositRunix, true},
			{CurrencyOnyx, req.DepositOnyx, true},
			{CurrencyRunix, req.WithdrawRunix, false},
			{CurrencyOnyx, req.WithdrawOnyx, false},
		}

		for _, leg := range legs {
			if leg.amount == 0 {
				continue
			}
			line := ReceiptLine{Class: AssetClassCurrency, Currency: leg.kind, Quantity: leg.amount}
			if leg.deposit {
				if err := s.Ledger().DepositCurrency(ctx, r.AccountID, leg.kind, leg.amount); err != nil {
					return err
				}
				if err := s.Currencies().Add(ctx, r.CharacterID, leg.kind, leg.amount); err != nil {
					return err
				}
				r.deposited(line)
				continue
			}
			if err := s.Ledger().WithdrawCurrency(ctx, r.AccountID, leg.kind, leg.amount); err != nil {
				return err
			}
			if err := s.Currencies().Deduct(ctx, r.CharacterID, leg.kind, leg.amount); err != nil {
				return err
			}
			r.withdrew(line)
		}

		return nil
	})
}

// ExchangeItems withdraws then deposits item stacks.
func (c *Coordinator) ExchangeItems(ctx context.Context, caller Caller, req ItemExchange) (*Receipt, error) {
	return c.run(ctx, caller, OperationItems, func(ctx context.Context, s Stores, r *Receipt) error {
		if err := validateItems(req.DepositIDs, req.DepositQuantities); err != nil {
			return err
		}
		if err := validateItems(req.WithdrawIDs, req.WithdrawQuantities); err != nil {
			return err
		}

		for i, id := range req.WithdrawIDs {
			quantity := req.WithdrawQuantities[i]
			if err := s.Ledger().WithdrawItem(ctx, r.AccountID, id, quantity); err != nil {
				return err
			}
			if err := s.Items().Deduct(ctx, r.CharacterID, id, quantity); err != nil {
				return err
			}
			r.withdrew(ReceiptLine{Class: AssetClassItem, ID: int64(id), Quantity: quantity})
		}

		for i, id := range req.DepositIDs {
			quantity := req.DepositQuantities[i]
			if err := s.Ledger().DepositItem(ctx, r.AccountID, id, quantity); err != nil {
				return err
			}
			if err := s.Items().Add(ctx, r.CharacterID, id, quantity); err != nil {
				return err
			}
			r.deposited(ReceiptLine{Class: AssetClassItem, ID: int64(id), Quantity: quantity})
		}

		return nil
	})
}

// ExchangeShips withdraws then deposits at most one ship each, so a single
// call can swap ships.
func (c *Coordinator) ExchangeShips(ctx context.Context, caller Caller, deposits, withdrawals []ShipID) (*Receipt, error) {
	return c.run(ctx, caller, OperationShips, func(ctx context.Context, s Stores, r *Receipt) error {
		if len(deposits) > 1 || len(withdrawals) > 1 {
			return TooManyShips(len(deposits), len(withdrawals))
		}
		ships := s.Ships()

		if len(withdrawals) == 1 {
			id := withdrawals[0]
			if err := validateShipOwner(ctx, ships, id, r.CharacterID); err != nil {
				return err
			}
			if err := ships.ClearShip(ctx, r.CharacterID); err != nil {
				return err
			}
			if err := s.Ledger().WithdrawShip(ctx, r.AccountID, id); err != nil {
				return err
			}
			r.withdrew(ReceiptLine{Class: AssetClassShip, ID: int64(id), Quantity: 1})
		}

		if len(deposits) == 1 {
			id := deposits[0]
			if err := s.Ledger().DepositShip(ctx, r.AccountID, id); err != nil {
				return err
			}
			if err := ships.SetShip(ctx, r.CharacterID, id); err != nil {
				return err
			}
			r.deposited(ReceiptLine{Class: AssetClassShip, ID: int64(id), Quantity: 1})
		}

		return nil
	})
}

// ResolveAccount returns the active account linked to caller without
// exchanging anything.
func (c *Coordinator) ResolveAccount(ctx context.Context, caller Caller) (AccountID, error) {
	var account AccountID
	err := c.transactor.WithTx(ctx, func(ctx context.Context, s Stores) error {
		var err error
		account, err = s.Session().ResolveActiveAccount(ctx, caller)
		return err
	})
	if err != nil {
		return "", err
	}
	return account, nil
}

// authorize resolves the caller's account and selected character and checks
// the character may exchange.
func authorize(ctx context.Context, gate SessionGate, caller Caller) (AccountID, CharacterID, error) {
	account, err := gate.ResolveActiveAccount(ctx, caller)
	if err != nil {
		return "", 0, err
	}
	characterID, err := gate.SelectedCharacter(ctx, account)
	if err != nil {
		return "", 0, err
	}
	if err := gate.ValidateState(ctx, characterID, WorldStateOpen); err != nil {
		return "", 0, err
	}
	return account, characterID, nil
}

func (c *Coordinator) run(ctx context.Context, caller Caller, op Operation, fn func(ctx context.Context, s Stores, r *Receipt) error) (*Receipt, error) {
	receipt := newReceipt(op)
	logger := log.With("receipt", receipt.ID).With("operation", op)

	err := c.transactor.WithTx(ctx, func(ctx context.Context, s Stores) error {
		account, characterID, err := authorize(ctx, s.Session(), caller)
		if err != nil {
			return err
		}
		receipt.AccountID = account
		receipt.CharacterID = characterID
		return fn(ctx, s, receipt)
	})
	if err != nil {
		if _, ok := AsError(err); ok {
			logger.Warn("Exchange aborted for caller %s: %v", caller, err)
		} else if !errors.Is(err, context.Canceled) {
			logger.Error("Exchange failed for caller %s: %v", caller, err)
		}
		return nil, err
	}

	receipt.CommittedAt = c.now().UTC()
	logger.Info("Exchange committed for character %d: %d deposits, %d withdrawals",
		receipt.CharacterID, len(receipt.Deposits), len(receipt.Withdrawals))
	c.publish(logger, receipt)
	return receipt, nil
}

func (c *Coordinator) publish(logger *log.Logger, receipt *Receipt) {
	if c.receiptChan == nil {
		return
	}
	select {
	case c.receiptChan <- receipt:
	default:
		logger.Warn("Receipt channel full, dropping receipt")
	}
}
