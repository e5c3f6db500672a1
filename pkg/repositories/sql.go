package repositories

import (
	"context"
	"fmt"

	"github.com/cbodonnell/flywheel-exchange/pkg/exchange"
)

// querier is the part of a database transaction the SQL stores need. The
// SQLite and Postgres repositories adapt their driver transactions to it so
// the queries are written once. Queries use $N placeholders, which both
// drivers accept.
type querier interface {
	Exec(ctx context.Context, q string, args ...interface{}) (int64, error)
	QueryRow(ctx context.Context, q string, args ...interface{}) rowScanner
	Query(ctx context.Context, q string, args ...interface{}) (rows, error)
}

// rowScanner reports a missing row as *ErrNotFound.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

type rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close()
}

// sqlStores implements exchange.Stores on top of a single transaction.
type sqlStores struct {
	q            querier
	beltCapacity int
}

func (s *sqlStores) Session() exchange.SessionGate { return sqlSession{s.q} }
func (s *sqlStores) Ledger() exchange.Ledger { return sqlLedger{s.q} }
func (s *sqlStores) Amulets() exchange.AmuletRegistry { return sqlAmulets{s.q} }
func (s *sqlStores) Ships() exchange.ShipRegistry { return sqlShips{s.q} }
func (s *sqlStores) Inventory() exchange.InventoryStore { return sqlInventory{s.q} }
func (s *sqlStores) Belt() exchange.BeltStore { return sqlBelt{s.q, s.beltCapacity} }
func (s *sqlStores) Items() exchange.ItemStore { return sqlItems{s.q} }
func (s *sqlStores) Currencies() exchange.CurrencyStore { return sqlCurrencies{s.q} }

type sqlSession struct{ q querier }

func (s sqlSession) ResolveActiveAccount(ctx context.Context, caller exchange.Caller) (exchange.AccountID, error) {
	q := `
	SELECT account_id, linked FROM accounts WHERE user_id = $1;
	`
	var account string
	var linked bool
	if err := s.q.QueryRow(ctx, q, string(caller)).Scan(&account, &linked); err != nil {
		if IsNotFound(err) {
			return "", exchange.UnlinkedAccount()
		}
		return "", fmt.Errorf("failed to scan account: %w", err)
	}
	if !linked {
		return "", exchange.UnlinkedAccount()
	}
	return exchange.AccountID(account), nil
}

func (s sqlSession) SelectedCharacter(ctx context.Context, account exchange.AccountID) (exchange.CharacterID, error) {
	q := `
	SELECT c.id FROM selected_characters s
	JOIN characters c ON c.id = s.character_id AND c.account_id = s.account_id
	WHERE s.account_id = $1;
	`
	var id int64
	if err := s.q.QueryRow(ctx, q, string(account)).Scan(&id); err != nil {
		if IsNotFound(err) {
			return 0, &ErrNotFound{What: "selected character"}
		}
		return 0, fmt.Errorf("failed to scan selected character: %w", err)
	}
	return exchange.CharacterID(id), nil
}

func (s sqlSession) ValidateState(ctx context.Context, characterID exchange.CharacterID, required exchange.WorldState) error {
	q := `
	SELECT world_state FROM characters WHERE id = $1;
	`
	var state string
	if err := s.q.QueryRow(ctx, q, int64(characterID)).Scan(&state); err != nil {
		if IsNotFound(err) {
			return &ErrNotFound{What: fmt.Sprintf("character %d", characterID)}
		}
		return fmt.Errorf("failed to scan world state: %w", err)
	}
	if exchange.WorldState(state) != required {
		return exchange.InvalidWorldState(characterID, exchange.WorldState(state))
	}
	return nil
}

type sqlLedger struct{ q querier }

func (l sqlLedger) deposit(ctx context.Context, account exchange.AccountID, class exchange.AssetClass, assetKey string, id int64, quantity int64) error {
	if class.Unique() {
		q := `
		SELECT COUNT(*) FROM custody WHERE asset_class = $1 AND asset_key = $2 AND quantity > 0;
		`
		var count int64
		if err := l.q.QueryRow(ctx, q, string(class), assetKey).Scan(&count); err != nil {
			return fmt.Errorf("failed to count custody: %w", err)
		}
		if count > 0 {
			return exchange.AlreadyInCustody(class, id)
		}
	}

	q := `
	SELECT quantity FROM custody WHERE account_id = $1 AND asset_class = $2 AND asset_key = $3;
	`
	var held int64
	if err := l.q.QueryRow(ctx, q, string(account), string(class), assetKey).Scan(&held); err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to scan custody: %w", err)
	}
	if overflows(held, quantity) {
		return overflowError(class, assetKey, id)
	}

	q = `
	INSERT INTO custody (account_id, asset_class, asset_key, quantity) VALUES ($1, $2, $3, $4)
	ON CONFLICT (account_id, asset_class, asset_key) DO UPDATE SET quantity = custody.quantity + excluded.quantity;
	`
	if _, err := l.q.Exec(ctx, q, string(account), string(class), assetKey, quantity); err != nil {
		return fmt.Errorf("failed to deposit into custody: %w", err)
	}
	return nil
}

func (l sqlLedger) withdraw(ctx context.Context, account exchange.AccountID, class exchange.AssetClass, assetKey string, id int64, quantity int64) error {
	q := `
	UPDATE custody SET quantity = quantity - $1
	WHERE account_id = $2 AND asset_class = $3 AND asset_key = $4 AND quantity >= $5;
	`
	n, err := l.q.Exec(ctx, q, quantity, string(account), string(class), assetKey, quantity)
	if err != nil {
		return fmt.Errorf("failed to withdraw from custody: %w", err)
	}
	if n == 0 {
		return exchange.InsufficientCustody(class, id)
	}

	q = `
	DELETE FROM custody WHERE account_id = $1 AND asset_class = $2 AND asset_key = $3 AND quantity = 0;
	`
	if _, err := l.q.Exec(ctx, q, string(account), string(class), assetKey); err != nil {
		return fmt.Errorf("failed to prune custody: %w", err)
	}
	return nil
}

func (l sqlLedger) DepositAmulet(ctx context.Context, account exchange.AccountID, id exchange.AmuletID) error {
	return l.deposit(ctx, account, exchange.AssetClassAmulet, idKey(int64(id)), int64(id), 1)
}

func (l sqlLedger) WithdrawAmulet(ctx context.Context, account exchange.AccountID, id exchange.AmuletID) error {
	return l.withdraw(ctx, account, exchange.AssetClassAmulet, idKey(int64(id)), int64(id), 1)
}

func (l sqlLedger) DepositFilledAmulet(ctx context.Context, account exchange.AccountID, id exchange.AmuletID) error {
	return l.deposit(ctx, account, exchange.AssetClassFilledAmulet, idKey(int64(id)), int64(id), 1)
}

func (l sqlLedger) WithdrawFilledAmulet(ctx context.Context, account exchange.AccountID, id exchange.AmuletID) error {
	return l.withdraw(ctx, account, exchange.AssetClassFilledAmulet, idKey(int64(id)), int64(id), 1)
}

func (l sqlLedger) DepositCurrency(ctx context.Context, account exchange.AccountID, kind exchange.CurrencyKind, amount int64) error {
	return l.deposit(ctx, account, exchange.AssetClassCurrency, string(kind), 0, amount)
}

func (l sqlLedger) WithdrawCurrency(ctx context.Context, account exchange.AccountID, kind exchange.CurrencyKind, amount int64) error {
	return l.withdraw(ctx, account, exchange.AssetClassCurrency, string(kind), 0, amount)
}

func (l sqlLedger) DepositItem(ctx context.Context, account exchange.AccountID, id exchange.ItemID, quantity int64) error {
	return l.deposit(ctx, account, exchange.AssetClassItem, idKey(int64(id)), int64(id), quantity)
}

func (l sqlLedger) WithdrawItem(ctx context.Context, account exchange.AccountID, id exchange.ItemID, quantity int64) error {
	return l.withdraw(ctx, account, exchange.AssetClassItem, idKey(int64(id)), int64(id), quantity)
}

func (l sqlLedger) DepositShip(ctx context.Context, account exchange.AccountID, id exchange.ShipID) error {
	return l.deposit(ctx, account, exchange.AssetClassShip, idKey(int64(id)), int64(id), 1)
}

func (l sqlLedger) WithdrawShip(ctx context.Context, account exchange.AccountID, id exchange.ShipID) error {
	return l.withdraw(ctx, account, exchange.AssetClassShip, idKey(int64(id)), int64(id), 1)
}

type sqlAmulets struct{ q querier }

func (a sqlAmulets) Get(ctx context.Context, id exchange.AmuletID) (*exchange.Amulet, error) {
	q := `
	SELECT owner_id, soulbound, payload FROM amulets WHERE id = $1;
	`
	var owner *int64
	var soulbound bool
	var payload *int64
	if err := a.q.QueryRow(ctx, q, int64(id)).Scan(&owner, &soulbound, &payload); err != nil {
		if IsNotFound(err) {
			return nil, &ErrNotFound{What: fmt.Sprintf("amulet %d", id)}
		}
		return nil, fmt.Errorf("failed to scan amulet: %w", err)
	}

	amulet := &exchange.Amulet{
		ID:        id,
		Soulbound: soulbound,
	}
	if owner != nil {
		characterID := exchange.CharacterID(*owner)
		amulet.Owner = &characterID
	}
	if payload != nil {
		amulet.Payload = *payload
	}
	return amulet, nil
}

func (a sqlAmulets) SetOwner(ctx context.Context, id exchange.AmuletID, characterID exchange.CharacterID) error {
	q := `
	UPDATE amulets SET owner_id = $1 WHERE id = $2 AND owner_id IS NULL;
	`
	n, err := a.q.Exec(ctx, q, int64(characterID), int64(id))
	if err != nil {
		return fmt.Errorf("failed to update amulet owner: %w", err)
	}
	if n > 0 {
		return nil
	}

	amulet, err := a.Get(ctx, id)
	if err != nil {
		return err
	}
	if amulet.Owner != nil {
		return exchange.AlreadyOwned(*amulet.Owner, exchange.AssetClassAmulet, int64(id))
	}
	return fmt.Errorf("failed to set owner of amulet %d", id)
}

func (a sqlAmulets) ClearOwner(ctx context.Context, id exchange.AmuletID) error {
	q := `
	UPDATE amulets SET owner_id = NULL WHERE id = $1;
	`
	n, err := a.q.Exec(ctx, q, int64(id))
	if err != nil {
		return fmt.Errorf("failed to clear amulet owner: %w", err)
	}
	if n == 0 {
		return &ErrNotFound{What: fmt.Sprintf("amulet %d", id)}
	}
	return nil
}

type sqlShips struct{ q querier }

func (s sqlShips) Owner(ctx context.Context, id exchange.ShipID) (exchange.CharacterID, bool, error) {
	q := `
	SELECT owner_id FROM ships WHERE id = $1;
	`
	var owner *int64
	if err := s.q.QueryRow(ctx, q, int64(id)).Scan(&owner); err != nil {
		if IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to scan ship owner: %w", err)
	}
	if owner == nil {
		return 0, false, nil
	}
	return exchange.CharacterID(*owner), true, nil
}

func (s sqlShips) ShipOf(ctx context.Context, characterID exchange.CharacterID) (exchange.ShipID, bool, error) {
	q := `
	SELECT id FROM ships WHERE owner_id = $1;
	`
	var id int64
	if err := s.q.QueryRow(ctx, q, int64(characterID)).Scan(&id); err != nil {
		if IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to scan ship: %w", err)
	}
	return exchange.ShipID(id), true, nil
}

func (s sqlShips) SetShip(ctx context.Context, characterID exchange.CharacterID, id exchange.ShipID) error {
	if _, ok, err := s.ShipOf(ctx, characterID); err != nil {
		return err
	} else if ok {
		return exchange.ShipSlotOccupied(characterID)
	}
	if owner, ok, err := s.Owner(ctx, id); err != nil {
		return err
	} else if ok {
		return exchange.AlreadyOwned(owner, exchange.AssetClassShip, int64(id))
	}

	q := `
	INSERT INTO ships (id, owner_id) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET owner_id = excluded.owner_id;
	`
	if _, err := s.q.Exec(ctx, q, int64(id), int64(characterID)); err != nil {
		return fmt.Errorf("failed to set ship: %w", err)
	}
	return nil
}

func (s sqlShips) ClearShip(ctx context.Context, characterID exchange.CharacterID) error {
	q := `
	UPDATE ships SET owner_id = NULL WHERE owner_id = $1;
	`
	if _, err := s.q.Exec(ctx, q, int64(characterID)); err != nil {
		return fmt.Errorf("failed to clear ship: %w", err)
	}
	return nil
}

func scanAmuletIDs(r rows) ([]exchange.AmuletID, error) {
	defer r.Close()

	ids := []exchange.AmuletID{}
	for r.Next() {
		var id int64
		if err := r.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan amulet id: %w", err)
		}
		ids = append(ids, exchange.AmuletID(id))
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate amulet ids: %w", err)
	}
	return ids, nil
}

type sqlInventory struct{ q querier }

func (i sqlInventory) AddAmulet(ctx context.Context, characterID exchange.CharacterID, id exchange.AmuletID) error {
	q := `
	INSERT INTO inventory_amulets (character_id, amulet_id) VALUES ($1, $2);
	`
	if _, err := i.q.Exec(ctx, q, int64(characterID), int64(id)); err != nil {
		return fmt.Errorf("failed to add amulet to inventory: %w", err)
	}
	return nil
}

func (i sqlInventory) RemoveAmulet(ctx context.Context, characterID exchange.CharacterID, id exchange.AmuletID) error {
	q := `
	DELETE FROM inventory_amulets WHERE character_id = $1 AND amulet_id = $2;
	`
	n, err := i.q.Exec(ctx, q, int64(characterID), int64(id))
	if err != nil {
		return fmt.Errorf("failed to remove amulet from inventory: %w", err)
	}
	if n == 0 {
		return exchange.AssetNotHeld(characterID, exchange.AssetClassAmulet, int64(id))
	}
	return nil
}

func (i sqlInventory) AmuletIDs(ctx context.Context, characterID exchange.CharacterID) ([]exchange.AmuletID, error) {
	q := `
	SELECT amulet_id FROM inventory_amulets WHERE character_id = $1 ORDER BY amulet_id;
	`
	r, err := i.q.Query(ctx, q, int64(characterID))
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	return scanAmuletIDs(r)
}

type sqlBelt struct {
	q        querier
	capacity int
}

func (b sqlBelt) Add(ctx context.Context, characterID exchange.CharacterID, id exchange.AmuletID) error {
	q := `
	INSERT INTO belt_amulets (character_id, amulet_id, position)
	VALUES ($1, $2, (SELECT COALESCE(MAX(position), -1) + 1 FROM belt_amulets WHERE character_id = $3));
	`
	if _, err := b.q.Exec(ctx, q, int64(characterID), int64(id), int64(characterID)); err != nil {
		return fmt.Errorf("failed to add amulet to belt: %w", err)
	}
	return nil
}

func (b sqlBelt) Remove(ctx context.Context, characterID exchange.CharacterID, id exchange.AmuletID) error {
	q := `
	DELETE FROM belt_amulets WHERE character_id = $1 AND amulet_id = $2;
	`
	n, err := b.q.Exec(ctx, q, int64(characterID), int64(id))
	if err != nil {
		return fmt.Errorf("failed to remove amulet from belt: %w", err)
	}
	if n == 0 {
		return exchange.AssetNotHeld(characterID, exchange.AssetClassFilledAmulet, int64(id))
	}
	return nil
}

func (b sqlBelt) IsOverflowing(ctx context.Context, characterID exchange.CharacterID) (bool, error) {
	q := `
	SELECT COUNT(*) FROM belt_amulets WHERE character_id = $1;
	`
	var count int64
	if err := b.q.QueryRow(ctx, q, int64(characterID)).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count belt: %w", err)
	}
	return count > int64(b.capacity), nil
}

func (b sqlBelt) AmuletIDs(ctx context.Context, characterID exchange.CharacterID) ([]exchange.AmuletID, error) {
	q := `
	SELECT amulet_id FROM belt_amulets WHERE character_id = $1 ORDER BY position;
	`
	r, err := b.q.Query(ctx, q, int64(characterID))
	if err != nil {
		return nil, fmt.Errorf("failed to query belt: %w", err)
	}
	return scanAmuletIDs(r)
}

type sqlItems struct{ q querier }

func (i sqlItems) Add(ctx context.Context, characterID exchange.CharacterID, id exchange.ItemID, quantity int64) error {
	held, err := i.Quantity(ctx, characterID, id)
	if err != nil {
		return err
	}
	if overflows(held, quantity) {
		return exchange.QuantityOverflow(exchange.AssetClassItem, int64(id))
	}

	q := `
	INSERT INTO item_stacks (character_id, item_id, quantity) VALUES ($1, $2, $3)
	ON CONFLICT (character_id, item_id) DO UPDATE SET quantity = item_stacks.quantity + excluded.quantity;
	`
	if _, err := i.q.Exec(ctx, q, int64(characterID), int64(id), quantity); err != nil {
		return fmt.Errorf("failed to add items: %w", err)
	}
	return nil
}

func (i sqlItems) Deduct(ctx context.Context, characterID exchange.CharacterID, id exchange.ItemID, quantity int64) error {
	q := `
	UPDATE item_stacks SET quantity = quantity - $1
	WHERE character_id = $2 AND item_id = $3 AND quantity >= $4;
	`
	n, err := i.q.Exec(ctx, q, quantity, int64(characterID), int64(id), quantity)
	if err != nil {
		return fmt.Errorf("failed to deduct items: %w", err)
	}
	if n == 0 {
		return exchange.InsufficientItems(characterID, id)
	}
	return nil
}

func (i sqlItems) Quantity(ctx context.Context, characterID exchange.CharacterID, id exchange.ItemID) (int64, error) {
	q := `
	SELECT quantity FROM item_stacks WHERE character_id = $1 AND item_id = $2;
	`
	var quantity int64
	if err := i.q.QueryRow(ctx, q, int64(characterID), int64(id)).Scan(&quantity); err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan item quantity: %w", err)
	}
	return quantity, nil
}

type sqlCurrencies struct{ q querier }

func (c sqlCurrencies) Add(ctx context.Context, characterID exchange.CharacterID, kind exchange.CurrencyKind, amount int64) error {
	held, err := c.Balance(ctx, characterID, kind)
	if err != nil {
		return err
	}
	if overflows(held, amount) {
		return exchange.CurrencyOverflow(kind)
	}

	q := `
	INSERT INTO currency_balances (character_id, kind, amount) VALUES ($1, $2, $3)
	ON CONFLICT (character_id, kind) DO UPDATE SET amount = currency_balances.amount + excluded.amount;
	`
	if _, err := c.q.Exec(ctx, q, int64(characterID), string(kind), amount); err != nil {
		return fmt.Errorf("failed to add currency: %w", err)
	}
	return nil
}

func (c sqlCurrencies) Deduct(ctx context.Context, characterID exchange.CharacterID, kind exchange.CurrencyKind, amount int64) error {
	q := `
	UPDATE currency_balances SET amount = amount - $1
	WHERE character_id = $2 AND kind = $3 AND amount >= $4;
	`
	n, err := c.q.Exec(ctx, q, amount, int64(characterID), string(kind), amount)
	if err != nil {
		return fmt.Errorf("failed to deduct currency: %w", err)
	}
	if n == 0 {
		return exchange.InsufficientBalance(characterID, kind)
	}
	return nil
}

func (c sqlCurrencies) Balance(ctx context.Context, characterID exchange.CharacterID, kind exchange.CurrencyKind) (int64, error) {
	q := `
	SELECT amount FROM currency_balances WHERE character_id = $1 AND kind = $2;
	`
	var amount int64
	if err := c.q.QueryRow(ctx, q, int64(characterID), string(kind)).Scan(&amount); err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan balance: %w", err)
	}
	return amount, nil
}
