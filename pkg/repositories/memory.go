package repositories

import (
	"context"
	"fmt"
	"sync"

	"github.com/cbodonnell/flywheel-exchange/pkg/exchange"
)

var _ Repository = &MemoryRepository{}

// MemoryRepository keeps all records in process memory. Transactions run
// against a copy of the state which replaces the committed state only when
// the transaction succeeds. Transactions are serialized.
type MemoryRepository struct {
	lock         sync.Mutex
	state        *memoryState
	beltCapacity int
}

type memoryAccount struct {
	id     exchange.AccountID
	linked bool
}

type memoryCharacter struct {
	account    exchange.AccountID
	worldState exchange.WorldState
}

type memoryState struct {
	accounts   map[exchange.Caller]memoryAccount
	characters map[exchange.CharacterID]memoryCharacter
	selected   map[exchange.AccountID]exchange.CharacterID
	amulets    map[exchange.AmuletID]exchange.Amulet
	shipOwners map[exchange.ShipID]exchange.CharacterID
	shipSlots  map[exchange.CharacterID]exchange.ShipID
	inventory  map[exchange.CharacterID][]exchange.AmuletID
	belts      map[exchange.CharacterID][]exchange.AmuletID
	items      map[exchange.CharacterID]map[exchange.ItemID]int64
	balances   map[exchange.CharacterID]map[exchange.CurrencyKind]int64
	custody    map[custodyKey]int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		accounts:   make(map[exchange.Caller]memoryAccount),
		characters: make(map[exchange.CharacterID]memoryCharacter),
		selected:   make(map[exchange.AccountID]exchange.CharacterID),
		amulets:    make(map[exchange.AmuletID]exchange.Amulet),
		shipOwners: make(map[exchange.ShipID]exchange.CharacterID),
		shipSlots:  make(map[exchange.CharacterID]exchange.ShipID),
		inventory:  make(map[exchange.CharacterID][]exchange.AmuletID),
		belts:      make(map[exchange.CharacterID][]exchange.AmuletID),
		items:      make(map[exchange.CharacterID]map[exchange.ItemID]int64),
		balances:   make(map[exchange.CharacterID]map[exchange.CurrencyKind]int64),
		custody:    make(map[custodyKey]int64),
	}
}

// clone returns a deep copy of the state.
func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.characters {
		c.characters[k] = v
	}
	for k, v := range s.selected {
		c.selected[k] = v
	}
	for k, v := range s.amulets {
		if v.Owner != nil {
			owner := *v.Owner
			v.Owner = &owner
		}
		c.amulets[k] = v
	}
	for k, v := range s.shipOwners {
		c.shipOwners[k] = v
	}
	for k, v := range s.shipSlots {
		c.shipSlots[k] = v
	}
	for k, v := range s.inventory {
		c.inventory[k] = append([]exchange.AmuletID(nil), v...)
	}
	for k, v := range s.belts {
		c.belts[k] = append([]exchange.AmuletID(nil), v...)
	}
	for k, v := range s.items {
		stacks := make(map[exchange.ItemID]int64, len(v))
		for id, q := range v {
			stacks[id] = q
		}
		c.items[k] = stacks
	}
	for k, v := range s.balances {
		balances := make(map[exchange.CurrencyKind]int64, len(v))
		for kind, amount := range v {
			balances[kind] = amount
		}
		c.balances[k] = balances
	}
	for k, v := range s.custody {
		c.custody[k] = v
	}
	return c
}

// NewMemoryRepository creates an empty MemoryRepository.
// A non-positive beltCapacity selects DefaultBeltCapacity.
func NewMemoryRepository(beltCapacity int) *MemoryRepository {
	if beltCapacity <= 0 {
		beltCapacity = DefaultBeltCapacity
	}
	return &MemoryRepository{
		state:        newMemoryState(),
		beltCapacity: beltCapacity,
	}
}

func (r *MemoryRepository) Close(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context, stores exchange.Stores) error) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{state: r.state.clone(), beltCapacity: r.beltCapacity}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

// LinkAccount links caller to account, replacing any previous link.
func (r *MemoryRepository) LinkAccount(caller exchange.Caller, account exchange.AccountID) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.state.accounts[caller] = memoryAccount{id: account, linked: true}
}

// UnlinkAccount keeps the account but marks its link inactive.
func (r *MemoryRepository) UnlinkAccount(caller exchange.Caller) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if a, ok := r.state.accounts[caller]; ok {
		a.linked = false
		r.state.accounts[caller] = a
	}
}

// CreateCharacter adds a character to account and selects it.
func (r *MemoryRepository) CreateCharacter(account exchange.AccountID, id exchange.CharacterID, worldState exchange.WorldState) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.state.characters[id] = memoryCharacter{account: account, worldState: worldState}
	r.state.selected[account] = id
}

func (r *MemoryRepository) SetWorldState(id exchange.CharacterID, worldState exchange.WorldState) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if c, ok := r.state.characters[id]; ok {
		c.worldState = worldState
		r.state.characters[id] = c
	}
}

// RegisterAmulet adds or replaces an amulet record.
func (r *MemoryRepository) RegisterAmulet(amulet exchange.Amulet) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.state.amulets[amulet.ID] = amulet
}

// RegisterShip records owner as the holder of ship id.
func (r *MemoryRepository) RegisterShip(id exchange.ShipID, owner exchange.CharacterID) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.state.shipOwners[id] = owner
	r.state.shipSlots[owner] = id
}

// memoryTx implements every exchange store over a private copy of the state.
type memoryTx struct {
	state        *memoryState
	beltCapacity int
}

func (tx *memoryTx) Session() exchange.SessionGate { return memorySession{tx} }
func (tx *memoryTx) Ledger() exchange.Ledger { return memoryLedger{tx} }
func (tx *memoryTx) Amulets() exchange.AmuletRegistry { return memoryAmulets{tx} }
func (tx *memoryTx) Ships() exchange.ShipRegistry { return memoryShips{tx} }
func (tx *memoryTx) Inventory() exchange.InventoryStore { return memoryInventory{tx} }
func (tx *memoryTx) Belt() exchange.BeltStore { return memoryBelt{tx} }
func (tx *memoryTx) Items() exchange.ItemStore { return memoryItems{tx} }
func (tx *memoryTx) Currencies() exchange.CurrencyStore { return memoryCurrencies{tx} }

type memorySession struct{ tx *memoryTx }

func (s memorySession) ResolveActiveAccount(ctx context.Context, caller exchange.Caller) (exchange.AccountID, error) {
	a, ok := s.tx.state.accounts[caller]
	if !ok || !a.linked {
		return "", exchange.UnlinkedAccount()
	}
	return a.id, nil
}

func (s memorySession) SelectedCharacter(ctx context.Context, account exchange.AccountID) (exchange.CharacterID, error) {
	id, ok := s.tx.state.selected[account]
	if !ok {
		return 0, &ErrNotFound{What: "selected character"}
	}
	if c, ok := s.tx.state.characters[id]; !ok || c.account != account {
		return 0, &ErrNotFound{What: fmt.Sprintf("character %d", id)}
	}
	return id, nil
}

func (s memorySession) ValidateState(ctx context.Context, characterID exchange.CharacterID, required exchange.WorldState) error {
	c, ok := s.tx.state.characters[characterID]
	if !ok {
		return &ErrNotFound{What: fmt.Sprintf("character %d", characterID)}
	}
	if c.worldState != required {
		return exchange.InvalidWorldState(characterID, c.worldState)
	}
	return nil
}

type memoryLedger struct{ tx *memoryTx }

func (l memoryLedger) deposit(account exchange.AccountID, class exchange.AssetClass, assetKey string, id int64, quantity int64) error {
	if class.Unique() {
		for k, q := range l.tx.state.custody {
			if k.class == class && k.assetKey == assetKey && q > 0 {
				return exchange.AlreadyInCustody(class, id)
			}
		}
	}
	key := custodyKey{account: account, class: class, assetKey: assetKey}
	if overflows(l.tx.state.custody[key], quantity) {
		return overflowError(class, assetKey, id)
	}
	l.tx.state.custody[key] += quantity
	return nil
}

func (l memoryLedger) withdraw(account exchange.AccountID, class exchange.AssetClass, assetKey string, id int64, quantity int64) error {
	key := custodyKey{account: account, class: class, assetKey: assetKey}
	held := l.tx.state.custody[key]
	if held < quantity {
		return exchange.InsufficientCustody(class, id)
	}
	if held == quantity {
		delete(l.tx.state.custody, key)
		return nil
	}
	l.tx.state.custody[key] = held - quantity
	return nil
}

func (l memoryLedger) DepositAmulet(ctx context.Context, account exchange.AccountID, id exchange.AmuletID) error {
	return l.deposit(account, exchange.AssetClassAmulet, idKey(int64(id)), int64(id), 1)
}

func (l memoryLedger) WithdrawAmulet(ctx context.Context, account exchange.AccountID, id exchange.AmuletID) error {
	return l.withdraw(account, exchange.AssetClassAmulet, idKey(int64(id)), int64(id), 1)
}

func (l memoryLedger) DepositFilledAmulet(ctx context.Context, account exchange.AccountID, id exchange.AmuletID) error {
	return l.deposit(account, exchange.AssetClassFilledAmulet, idKey(int64(id)), int64(id), 1)
}

func (l memoryLedger) WithdrawFilledAmulet(ctx context.Context, account exchange.AccountID, id exchange.AmuletID) error {
	return l.withdraw(account, exchange.AssetClassFilledAmulet, idKey(int64(id)), int64(id), 1)
}

func (l memoryLedger) DepositCurrency(ctx context.Context, account exchange.AccountID, kind exchange.CurrencyKind, amount int64) error {
	return l.deposit(account, exchange.AssetClassCurrency, string(kind), 0, amount)
}

func (l memoryLedger) WithdrawCurrency(ctx context.Context, account exchange.AccountID, kind exchange.CurrencyKind, amount int64) error {
	return l.withdraw(account, exchange.AssetClassCurrency, string(kind), 0, amount)
}

func (l memoryLedger) DepositItem(ctx context.Context, account exchange.AccountID, id exchange.ItemID, quantity int64) error {
	return l.deposit(account, exchange.AssetClassItem, idKey(int64(id)), int64(id), quantity)
}

func (l memoryLedger) WithdrawItem(ctx context.Context, account exchange.AccountID, id exchange.ItemID, quantity int64) error {
	return l.withdraw(account, exchange.AssetClassItem, idKey(int64(id)), int64(id), quantity)
}

func (l memoryLedger) DepositShip(ctx context.Context, account exchange.AccountID, id exchange.ShipID) error {
	return l.deposit(account, exchange.AssetClassShip, idKey(int64(id)), int64(id), 1)
}

func (l memoryLedger) WithdrawShip(ctx context.Context, account exchange.AccountID, id exchange.ShipID) error {
	return l.withdraw(account, exchange.AssetClassShip, idKey(int64(id)), int64(id), 1)
}

type memoryAmulets struct{ tx *memoryTx }

func (a memoryAmulets) Get(ctx context.Context, id exchange.AmuletID) (*exchange.Amulet, error) {
	amulet, ok := a.tx.state.amulets[id]
	if !ok {
		return nil, &ErrNotFound{What: fmt.Sprintf("amulet %d", id)}
	}
	if amulet.Owner != nil {
		owner := *amulet.Owner
		amulet.Owner = &owner
	}
	return &amulet, nil
}

func (a memoryAmulets) SetOwner(ctx context.Context, id exchange.AmuletID, characterID exchange.CharacterID) error {
	amulet, ok := a.tx.state.amulets[id]
	if !ok {
		return &ErrNotFound{What: fmt.Sprintf("amulet %d", id)}
	}
	if amulet.Owner != nil {
		return exchange.AlreadyOwned(*amulet.Owner, exchange.AssetClassAmulet, int64(id))
	}
	owner := characterID
	amulet.Owner = &owner
	a.tx.state.amulets[id] = amulet
	return nil
}

func (a memoryAmulets) ClearOwner(ctx context.Context, id exchange.AmuletID) error {
	amulet, ok := a.tx.state.amulets[id]
	if !ok {
		return &ErrNotFound{What: fmt.Sprintf("amulet %d", id)}
	}
	amulet.Owner = nil
	a.tx.state.amulets[id] = amulet
	return nil
}

type memoryShips struct{ tx *memoryTx }

func (s memoryShips) Owner(ctx context.Context, id exchange.ShipID) (exchange.CharacterID, bool, error) {
	owner, ok := s.tx.state.shipOwners[id]
	return owner, ok, nil
}

func (s memoryShips) ShipOf(ctx context.Context, characterID exchange.CharacterID) (exchange.ShipID, bool, error) {
	id, ok := s.tx.state.shipSlots[characterID]
	return id, ok, nil
}

func (s memoryShips) SetShip(ctx context.Context, characterID exchange.CharacterID, id exchange.ShipID) error {
	if _, ok := s.tx.state.shipSlots[characterID]; ok {
		return exchange.ShipSlotOccupied(characterID)
	}
	if owner, ok := s.tx.state.shipOwners[id]; ok {
		return exchange.AlreadyOwned(owner, exchange.AssetClassShip, int64(id))
	}
	s.tx.state.shipSlots[characterID] = id
	s.tx.state.shipOwners[id] = characterID
	return nil
}

func (s memoryShips) ClearShip(ctx context.Context, characterID exchange.CharacterID) error {
	id, ok := s.tx.state.shipSlots[characterID]
	if !ok {
		return nil
	}
	delete(s.tx.state.shipSlots, characterID)
	delete(s.tx.state.shipOwners, id)
	return nil
}

// removeID removes id from ids, reporting whether it was present.
func removeID(ids []exchange.AmuletID, id exchange.AmuletID) ([]exchange.AmuletID, bool) {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...), true
		}
	}
	return ids, false
}

func containsID(ids []exchange.AmuletID, id exchange.AmuletID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type memoryInventory struct{ tx *memoryTx }

func (i memoryInventory) AddAmulet(ctx context.Context, characterID exchange.CharacterID, id exchange.AmuletID) error {
	if containsID(i.tx.state.inventory[characterID], id) {
		return fmt.Errorf("amulet %d is already in the inventory of character %d", id, characterID)
	}
	i.tx.state.inventory[characterID] = append(i.tx.state.inventory[characterID], id)
	return nil
}

func (i memoryInventory) RemoveAmulet(ctx context.Context, characterID exchange.CharacterID, id exchange.AmuletID) error {
	ids, ok := removeID(i.tx.state.inventory[characterID], id)
	if !ok {
		return exchange.AssetNotHeld(characterID, exchange.AssetClassAmulet, int64(id))
	}
	i.tx.state.inventory[characterID] = ids
	return nil
}

func (i memoryInventory) AmuletIDs(ctx context.Context, characterID exchange.CharacterID) ([]exchange.AmuletID, error) {
	return append([]exchange.AmuletID{}, i.tx.state.inventory[characterID]...), nil
}

type memoryBelt struct{ tx *memoryTx }

func (b memoryBelt) Add(ctx context.Context, characterID exchange.CharacterID, id exchange.AmuletID) error {
	if containsID(b.tx.state.belts[characterID], id) {
		return fmt.Errorf("amulet %d is already on the belt of character %d", id, characterID)
	}
	b.tx.state.belts[characterID] = append(b.tx.state.belts[characterID], id)
	return nil
}

func (b memoryBelt) Remove(ctx context.Context, characterID exchange.CharacterID, id exchange.AmuletID) error {
	ids, ok := removeID(b.tx.state.belts[characterID], id)
	if !ok {
		return exchange.AssetNotHeld(characterID, exchange.AssetClassFilledAmulet, int64(id))
	}
	b.tx.state.belts[characterID] = ids
	return nil
}

func (b memoryBelt) IsOverflowing(ctx context.Context, characterID exchange.CharacterID) (bool, error) {
	return len(b.tx.state.belts[characterID]) > b.tx.beltCapacity, nil
}

func (b memoryBelt) AmuletIDs(ctx context.Context, characterID exchange.CharacterID) ([]exchange.AmuletID, error) {
	return append([]exchange.AmuletID{}, b.tx.state.belts[characterID]...), nil
}

type memoryItems struct{ tx *memoryTx }

func (i memoryItems) Add(ctx context.Context, characterID exchange.CharacterID, id exchange.ItemID, quantity int64) error {
	stacks, ok := i.tx.state.items[characterID]
	if !ok {
		stacks = make(map[exchange.ItemID]int64)
		i.tx.state.items[characterID] = stacks
	}
	if overflows(stacks[id], quantity) {
		return exchange.QuantityOverflow(exchange.AssetClassItem, int64(id))
	}
	stacks[id] += quantity
	return nil
}

func (i memoryItems) Deduct(ctx context.Context, characterID exchange.CharacterID, id exchange.ItemID, quantity int64) error {
	stacks := i.tx.state.items[characterID]
	if stacks[id] < quantity {
		return exchange.InsufficientItems(characterID, id)
	}
	stacks[id] -= quantity
	return nil
}

func (i memoryItems) Quantity(ctx context.Context, characterID exchange.CharacterID, id exchange.ItemID) (int64, error) {
	return i.tx.state.items[characterID][id], nil
}

type memoryCurrencies struct{ tx *memoryTx }

func (c memoryCurrencies) Add(ctx context.Context, characterID exchange.CharacterID, kind exchange.CurrencyKind, amount int64) error {
	balances, ok := c.tx.state.balances[characterID]
	if !ok {
		balances = make(map[exchange.CurrencyKind]int64)
		c.tx.state.balances[characterID] = balances
	}
	if overflows(balances[kind], amount) {
		return exchange.CurrencyOverflow(kind)
	}
	balances[kind] += amount
	return nil
}

func (c memoryCurrencies) Deduct(ctx context.Context, characterID exchange.CharacterID, kind exchange.CurrencyKind, amount int64) error {
	balances := c.tx.state.balances[characterID]
	if balances[kind] < amount {
		return exchange.InsufficientBalance(characterID, kind)
	}
	balances[kind] -= amount
	return nil
}

func (c memoryCurrencies) Balance(ctx context.Context, characterID exchange.CharacterID, kind exchange.CurrencyKind) (int64, error) {
	return c.tx.state.balances[characterID][kind], nil
}
