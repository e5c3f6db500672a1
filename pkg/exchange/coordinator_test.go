package exchange_test

import (
	"context"
	"math"
	"testing"

	"github.com/cbodonnell/flywheel-exchange/pkg/exchange"
	"github.com/cbodonnell/flywheel-exchange/pkg/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCaller    exchange.Caller      = "uid-1"
	testAccount   exchange.AccountID   = "account-1"
	testCharacter exchange.CharacterID = 42
	otherCaller   exchange.Caller      = "uid-2"
	otherAccount  exchange.AccountID   = "account-2"
	otherChar     exchange.CharacterID = 43
)

type fixture struct {
	repo        *repositories.MemoryRepository
	coordinator *exchange.Coordinator
	receipts    chan *exchange.Receipt
}

func newFixture(t *testing.T, beltCapacity int) *fixture {
	t.Helper()
	repo := repositories.NewMemoryRepository(beltCapacity)
	repo.LinkAccount(testCaller, testAccount)
	repo.CreateCharacter(testAccount, testCharacter, exchange.WorldStateOpen)
	repo.LinkAccount(otherCaller, otherAccount)
	repo.CreateCharacter(otherAccount, otherChar, exchange.WorldStateOpen)

	receipts := make(chan *exchange.Receipt, 16)
	return &fixture{
		repo: repo,
		coordinator: exchange.NewCoordinator(exchange.NewCoordinatorOptions{
			Transactor:  repo,
			ReceiptChan: receipts,
		}),
		receipts: receipts,
	}
}

// inspect runs fn against the committed state.
func (f *fixture) inspect(t *testing.T, fn func(ctx context.Context, s exchange.Stores)) {
	t.Helper()
	require.NoError(t, f.repo.WithTx(context.Background(), func(ctx context.Context, s exchange.Stores) error {
		fn(ctx, s)
		return nil
	}))
}

func (f *fixture) inventory(t *testing.T, characterID exchange.CharacterID) []exchange.AmuletID {
	var ids []exchange.AmuletID
	f.inspect(t, func(ctx context.Context, s exchange.Stores) {
		var err error
		ids, err = s.Inventory().AmuletIDs(ctx, characterID)
		require.NoError(t, err)
	})
	return ids
}

func (f *fixture) belt(t *testing.T, characterID exchange.CharacterID) []exchange.AmuletID {
	var ids []exchange.AmuletID
	f.inspect(t, func(ctx context.Context, s exchange.Stores) {
		var err error
		ids, err = s.Belt().AmuletIDs(ctx, characterID)
		require.NoError(t, err)
	})
	return ids
}

func (f *fixture) amulet(t *testing.T, id exchange.AmuletID) *exchange.Amulet {
	var amulet *exchange.Amulet
	f.inspect(t, func(ctx context.Context, s exchange.Stores) {
		var err error
		amulet, err = s.Amulets().Get(ctx, id)
		require.NoError(t, err)
	})
	return amulet
}

func (f *fixture) balance(t *testing.T, characterID exchange.CharacterID, kind exchange.CurrencyKind) int64 {
	var amount int64
	f.inspect(t, func(ctx context.Context, s exchange.Stores) {
		var err error
		amount, err = s.Currencies().Balance(ctx, characterID, kind)
		require.NoError(t, err)
	})
	return amount
}

func (f *fixture) quantity(t *testing.T, characterID exchange.CharacterID, id exchange.ItemID) int64 {
	var quantity int64
	f.inspect(t, func(ctx context.Context, s exchange.Stores) {
		var err error
		quantity, err = s.Items().Quantity(ctx, characterID, id)
		require.NoError(t, err)
	})
	return quantity
}

func (f *fixture) ship(t *testing.T, characterID exchange.CharacterID) (exchange.ShipID, bool) {
	var id exchange.ShipID
	var ok bool
	f.inspect(t, func(ctx context.Context, s exchange.Stores) {
		var err error
		id, ok, err = s.Ships().ShipOf(ctx, characterID)
		require.NoError(t, err)
	})
	return id, ok
}

func ownerOf(a *exchange.Amulet) exchange.CharacterID {
	if a.Owner == nil {
		return 0
	}
	return *a.Owner
}

func TestExchangeAmulets_SoulboundWithdrawalAborts(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.repo.RegisterAmulet(exchange.Amulet{ID: 7, Soulbound: true})

	_, err := f.coordinator.ExchangeAmulets(ctx, testCaller, []exchange.AmuletID{7}, nil)
	require.NoError(t, err)

	_, err = f.coordinator.ExchangeAmulets(ctx, testCaller, nil, []exchange.AmuletID{7})
	require.ErrorIs(t, err, exchange.ErrSoulboundAmulet)
	e, ok := exchange.AsError(err)
	require.True(t, ok)
	assert.Equal(t, int64(7), e.AssetID)

	assert.Equal(t, []exchange.AmuletID{7}, f.inventory(t, testCharacter))
	assert.Equal(t, testCharacter, ownerOf(f.amulet(t, 7)))
}

func TestExchangeAmulets_RoundTrip(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.repo.RegisterAmulet(exchange.Amulet{ID: 1})
	f.repo.RegisterAmulet(exchange.Amulet{ID: 2})

	receipt, err := f.coordinator.ExchangeAmulets(ctx, testCaller, []exchange.AmuletID{1, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, exchange.OperationAmulets, receipt.Operation)
	assert.Equal(t, testAccount, receipt.AccountID)
	assert.Equal(t, testCharacter, receipt.CharacterID)
	assert.Len(t, receipt.Deposits, 2)
	assert.Equal(t, []exchange.AmuletID{1, 2}, f.inventory(t, testCharacter))
	assert.Equal(t, testCharacter, ownerOf(f.amulet(t, 1)))

	_, err = f.coordinator.ExchangeAmulets(ctx, testCaller, nil, []exchange.AmuletID{1, 2})
	require.NoError(t, err)
	assert.Empty(t, f.inventory(t, testCharacter))
	assert.Nil(t, f.amulet(t, 1).Owner)
	assert.Nil(t, f.amulet(t, 2).Owner)
}

func TestExchangeAmulets_Failures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(f *fixture)
		deposits    []exchange.AmuletID
		withdrawals []exchange.AmuletID
		wantErr     error
	}{
		{
			name: "filled amulet through the inventory",
			setup: func(f *fixture) {
				f.repo.RegisterAmulet(exchange.Amulet{ID: 3, Payload: 99})
			},
			deposits: []exchange.AmuletID{3},
			wantErr:  exchange.ErrAmuletNotEmpty,
		},
		{
			name: "withdrawing an amulet owned by another character",
			setup: func(f *fixture) {
				f.repo.RegisterAmulet(exchange.Amulet{ID: 4})
				_, err := f.coordinator.ExchangeAmulets(context.Background(), otherCaller, []exchange.AmuletID{4}, nil)
				require.NoError(t, err)
			},
			withdrawals: []exchange.AmuletID{4},
			wantErr:     exchange.ErrNotOwner,
		},
		{
			name: "depositing an amulet already in custody",
			setup: func(f *fixture) {
				f.repo.RegisterAmulet(exchange.Amulet{ID: 5})
				_, err := f.coordinator.ExchangeAmulets(context.Background(), otherCaller, []exchange.AmuletID{5}, nil)
				require.NoError(t, err)
			},
			deposits: []exchange.AmuletID{5},
			wantErr:  exchange.ErrAlreadyInCustody,
		},
		{
			name: "a late failure rolls back earlier deposits",
			setup: func(f *fixture) {
				f.repo.RegisterAmulet(exchange.Amulet{ID: 6})
				f.repo.RegisterAmulet(exchange.Amulet{ID: 8, Payload: 1})
			},
			deposits: []exchange.AmuletID{6, 8},
			wantErr:  exchange.ErrAmuletNotEmpty,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 3)
			tt.setup(f)
			before := f.inventory(t, testCharacter)

			receipt, err := f.coordinator.ExchangeAmulets(context.Background(), testCaller, tt.deposits, tt.withdrawals)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, receipt)
			assert.Equal(t, before, f.inventory(t, testCharacter))
		})
	}
}

func TestExchangeAmulets_FailedDepositLeavesNoOwner(t *testing.T) {
	f := newFixture(t, 3)
	f.repo.RegisterAmulet(exchange.Amulet{ID: 6})
	f.repo.RegisterAmulet(exchange.Amulet{ID: 8, Payload: 1})

	_, err := f.coordinator.ExchangeAmulets(context.Background(), testCaller, []exchange.AmuletID{6, 8}, nil)
	require.ErrorIs(t, err, exchange.ErrAmuletNotEmpty)
	assert.Nil(t, f.amulet(t, 6).Owner)

	// custody for 6 was rolled back as well, so it can be deposited again
	_, err = f.coordinator.ExchangeAmulets(context.Background(), testCaller, []exchange.AmuletID{6}, nil)
	require.NoError(t, err)
}

func TestPreamble(t *testing.T) {
	t.Run("unlinked account", func(t *testing.T) {
		f := newFixture(t, 3)
		f.repo.RegisterAmulet(exchange.Amulet{ID: 1})
		f.repo.UnlinkAccount(testCaller)

		_, err := f.coordinator.ExchangeAmulets(context.Background(), testCaller, []exchange.AmuletID{1}, nil)
		assert.ErrorIs(t, err, exchange.ErrUnlinkedAccount)
		assert.Nil(t, f.amulet(t, 1).Owner)
	})

	t.Run("unknown caller", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeCurrencies(context.Background(), "nobody", exchange.CurrencyExchange{DepositRunix: 1})
		assert.ErrorIs(t, err, exchange.ErrUnlinkedAccount)
	})

	t.Run("character not in the open world", func(t *testing.T) {
		f := newFixture(t, 3)
		f.repo.SetWorldState(testCharacter, exchange.WorldStateCombat)

		_, err := f.coordinator.ExchangeCurrencies(context.Background(), testCaller, exchange.CurrencyExchange{DepositRunix: 10})
		require.ErrorIs(t, err, exchange.ErrInvalidWorldState)
		e, ok := exchange.AsError(err)
		require.True(t, ok)
		assert.Equal(t, testCharacter, e.CharacterID)
		assert.Equal(t, exchange.WorldStateCombat, e.WorldState)
		assert.Zero(t, f.balance(t, testCharacter, exchange.CurrencyRunix))
	})
}

func TestExchangeCurrencies(t *testing.T) {
	t.Run("runix deposit only changes runix", func(t *testing.T) {
		f := newFixture(t, 3)
		receipt, err := f.coordinator.ExchangeCurrencies(context.Background(), testCaller, exchange.CurrencyExchange{DepositRunix: 100})
		require.NoError(t, err)

		assert.Equal(t, int64(100), f.balance(t, testCharacter, exchange.CurrencyRunix))
		assert.Zero(t, f.balance(t, testCharacter, exchange.CurrencyOnyx))
		assert.Zero(t, f.balance(t, otherChar, exchange.CurrencyRunix))
		assert.Equal(t, []exchange.ReceiptLine{
			{Class: exchange.AssetClassCurrency, Currency: exchange.CurrencyRunix, Quantity: 100},
		}, receipt.Deposits)
		assert.Empty(t, receipt.Withdrawals)
	})

	t.Run("deposits are applied before withdrawals", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeCurrencies(context.Background(), testCaller, exchange.CurrencyExchange{
			DepositRunix:  50,
			WithdrawRunix: 30,
			DepositOnyx:   5,
			WithdrawOnyx:  5,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(20), f.balance(t, testCharacter, exchange.CurrencyRunix))
		assert.Zero(t, f.balance(t, testCharacter, exchange.CurrencyOnyx))
	})

	t.Run("withdrawing more than custody aborts", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeCurrencies(context.Background(), testCaller, exchange.CurrencyExchange{DepositOnyx: 10})
		require.NoError(t, err)

		_, err = f.coordinator.ExchangeCurrencies(context.Background(), testCaller, exchange.CurrencyExchange{
			DepositRunix: 10,
			WithdrawOnyx: 11,
		})
		assert.ErrorIs(t, err, exchange.ErrInsufficientCustody)
		assert.Zero(t, f.balance(t, testCharacter, exchange.CurrencyRunix))
		assert.Equal(t, int64(10), f.balance(t, testCharacter, exchange.CurrencyOnyx))
	})

	t.Run("negative amounts are rejected", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeCurrencies(context.Background(), testCaller, exchange.CurrencyExchange{WithdrawOnyx: -1})
		assert.ErrorIs(t, err, exchange.ErrInvalidAmount)
	})

	t.Run("round trip", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeCurrencies(context.Background(), testCaller, exchange.CurrencyExchange{DepositRunix: 7, DepositOnyx: 3})
		require.NoError(t, err)
		_, err = f.coordinator.ExchangeCurrencies(context.Background(), testCaller, exchange.CurrencyExchange{WithdrawRunix: 7, WithdrawOnyx: 3})
		require.NoError(t, err)
		assert.Zero(t, f.balance(t, testCharacter, exchange.CurrencyRunix))
		assert.Zero(t, f.balance(t, testCharacter, exchange.CurrencyOnyx))
	})
}

func TestExchangeFilledAmulets(t *testing.T) {
	t.Run("withdrawing the last amulet leaves the belt empty", func(t *testing.T) {
		f := newFixture(t, 3)
		f.repo.RegisterAmulet(exchange.Amulet{ID: 20, Payload: 1})
		_, err := f.coordinator.ExchangeFilledAmulets(context.Background(), testCaller, []exchange.AmuletID{20}, nil)
		require.NoError(t, err)

		_, err = f.coordinator.ExchangeFilledAmulets(context.Background(), testCaller, nil, []exchange.AmuletID{20})
		require.ErrorIs(t, err, exchange.ErrBeltEmpty)
		e, ok := exchange.AsError(err)
		require.True(t, ok)
		assert.Equal(t, testCharacter, e.CharacterID)
		assert.Equal(t, []exchange.AmuletID{20}, f.belt(t, testCharacter))
		assert.Equal(t, testCharacter, ownerOf(f.amulet(t, 20)))
	})

	t.Run("exceeding capacity overflows", func(t *testing.T) {
		f := newFixture(t, 2)
		for _, id := range []exchange.AmuletID{21, 22, 23} {
			f.repo.RegisterAmulet(exchange.Amulet{ID: id, Payload: int64(id)})
		}
		_, err := f.coordinator.ExchangeFilledAmulets(context.Background(), testCaller, []exchange.AmuletID{21, 22, 23}, nil)
		assert.ErrorIs(t, err, exchange.ErrBeltOverflow)
		assert.Empty(t, f.belt(t, testCharacter))
	})

	t.Run("swap keeps the belt within bounds", func(t *testing.T) {
		f := newFixture(t, 2)
		for _, id := range []exchange.AmuletID{21, 22, 23} {
			f.repo.RegisterAmulet(exchange.Amulet{ID: id, Payload: int64(id)})
		}
		_, err := f.coordinator.ExchangeFilledAmulets(context.Background(), testCaller, []exchange.AmuletID{21, 22}, nil)
		require.NoError(t, err)

		receipt, err := f.coordinator.ExchangeFilledAmulets(context.Background(), testCaller, []exchange.AmuletID{23}, []exchange.AmuletID{21})
		require.NoError(t, err)
		assert.Equal(t, []exchange.AmuletID{22, 23}, f.belt(t, testCharacter))
		assert.Nil(t, f.amulet(t, 21).Owner)
		assert.Len(t, receipt.Withdrawals, 1)
		assert.Len(t, receipt.Deposits, 1)
	})

	t.Run("empty amulet through the belt", func(t *testing.T) {
		f := newFixture(t, 3)
		f.repo.RegisterAmulet(exchange.Amulet{ID: 24})
		_, err := f.coordinator.ExchangeFilledAmulets(context.Background(), testCaller, []exchange.AmuletID{24}, nil)
		assert.ErrorIs(t, err, exchange.ErrAmuletNotFilled)
		assert.Nil(t, f.amulet(t, 24).Owner)
	})

	t.Run("soulbound filled amulet cannot leave", func(t *testing.T) {
		f := newFixture(t, 3)
		f.repo.RegisterAmulet(exchange.Amulet{ID: 25, Payload: 1, Soulbound: true})
		f.repo.RegisterAmulet(exchange.Amulet{ID: 26, Payload: 1})
		_, err := f.coordinator.ExchangeFilledAmulets(context.Background(), testCaller, []exchange.AmuletID{25, 26}, nil)
		require.NoError(t, err)

		_, err = f.coordinator.ExchangeFilledAmulets(context.Background(), testCaller, nil, []exchange.AmuletID{25})
		assert.ErrorIs(t, err, exchange.ErrSoulboundAmulet)
		assert.Equal(t, []exchange.AmuletID{25, 26}, f.belt(t, testCharacter))
	})
}

func TestExchangeItems(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeItems(context.Background(), testCaller, exchange.ItemExchange{
			DepositIDs:        []exchange.ItemID{100, 101},
			DepositQuantities: []int64{5, 1},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), f.quantity(t, testCharacter, 100))
		assert.Equal(t, int64(1), f.quantity(t, testCharacter, 101))

		_, err = f.coordinator.ExchangeItems(context.Background(), testCaller, exchange.ItemExchange{
			WithdrawIDs:        []exchange.ItemID{100, 101},
			WithdrawQuantities: []int64{5, 1},
		})
		require.NoError(t, err)
		assert.Zero(t, f.quantity(t, testCharacter, 100))
		assert.Zero(t, f.quantity(t, testCharacter, 101))
	})

	t.Run("withdrawals run before deposits", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeItems(context.Background(), testCaller, exchange.ItemExchange{
			DepositIDs:         []exchange.ItemID{100},
			DepositQuantities:  []int64{2},
			WithdrawIDs:        []exchange.ItemID{100},
			WithdrawQuantities: []int64{2},
		})
		assert.ErrorIs(t, err, exchange.ErrInsufficientCustody)
		assert.Zero(t, f.quantity(t, testCharacter, 100))
	})

	t.Run("mismatched sequences", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeItems(context.Background(), testCaller, exchange.ItemExchange{
			DepositIDs:        []exchange.ItemID{100, 101},
			DepositQuantities: []int64{2},
		})
		assert.ErrorIs(t, err, exchange.ErrMismatchedItems)
	})

	t.Run("zero quantity", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeItems(context.Background(), testCaller, exchange.ItemExchange{
			WithdrawIDs:        []exchange.ItemID{100},
			WithdrawQuantities: []int64{0},
		})
		assert.ErrorIs(t, err, exchange.ErrInvalidQuantity)
	})

	t.Run("stack held by another character of the same account", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeItems(context.Background(), testCaller, exchange.ItemExchange{
			DepositIDs:        []exchange.ItemID{100},
			DepositQuantities: []int64{3},
		})
		require.NoError(t, err)

		f.repo.CreateCharacter(testAccount, 44, exchange.WorldStateOpen)
		_, err = f.coordinator.ExchangeItems(context.Background(), testCaller, exchange.ItemExchange{
			WithdrawIDs:        []exchange.ItemID{100},
			WithdrawQuantities: []int64{1},
		})
		assert.ErrorIs(t, err, exchange.ErrInsufficientItems)
		assert.Equal(t, int64(3), f.quantity(t, testCharacter, 100))
	})
}

func TestExchangeShips(t *testing.T) {
	t.Run("more than one deposit", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeShips(context.Background(), testCaller, []exchange.ShipID{10, 11}, nil)
		require.ErrorIs(t, err, exchange.ErrTooManyShips)
		e, ok := exchange.AsError(err)
		require.True(t, ok)
		assert.Equal(t, 2, e.Deposits)
		assert.Equal(t, 0, e.Withdrawals)
		_, has := f.ship(t, testCharacter)
		assert.False(t, has)
	})

	t.Run("swap in a single call", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeShips(context.Background(), testCaller, []exchange.ShipID{10}, nil)
		require.NoError(t, err)

		_, err = f.coordinator.ExchangeShips(context.Background(), testCaller, []exchange.ShipID{11}, []exchange.ShipID{10})
		require.NoError(t, err)
		id, has := f.ship(t, testCharacter)
		assert.True(t, has)
		assert.Equal(t, exchange.ShipID(11), id)
	})

	t.Run("second ship without withdrawing the first", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeShips(context.Background(), testCaller, []exchange.ShipID{10}, nil)
		require.NoError(t, err)

		_, err = f.coordinator.ExchangeShips(context.Background(), testCaller, []exchange.ShipID{11}, nil)
		assert.ErrorIs(t, err, exchange.ErrShipSlotOccupied)
		id, _ := f.ship(t, testCharacter)
		assert.Equal(t, exchange.ShipID(10), id)

		// custody of 11 was rolled back with the failed call
		_, err = f.coordinator.ExchangeShips(context.Background(), otherCaller, []exchange.ShipID{11}, nil)
		assert.NoError(t, err)
	})

	t.Run("withdrawing a ship owned by someone else", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeShips(context.Background(), otherCaller, []exchange.ShipID{12}, nil)
		require.NoError(t, err)

		_, err = f.coordinator.ExchangeShips(context.Background(), testCaller, nil, []exchange.ShipID{12})
		assert.ErrorIs(t, err, exchange.ErrNotOwner)
		id, _ := f.ship(t, otherChar)
		assert.Equal(t, exchange.ShipID(12), id)
	})

	t.Run("round trip", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeShips(context.Background(), testCaller, []exchange.ShipID{13}, nil)
		require.NoError(t, err)
		_, err = f.coordinator.ExchangeShips(context.Background(), testCaller, nil, []exchange.ShipID{13})
		require.NoError(t, err)
		_, has := f.ship(t, testCharacter)
		assert.False(t, has)
	})
}

func TestReceipts(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	receipt, err := f.coordinator.ExchangeCurrencies(ctx, testCaller, exchange.CurrencyExchange{DepositOnyx: 1})
	require.NoError(t, err)
	_, err = f.coordinator.ExchangeCurrencies(ctx, testCaller, exchange.CurrencyExchange{WithdrawOnyx: 2})
	require.Error(t, err)

	require.Len(t, f.receipts, 1)
	published := <-f.receipts
	assert.Equal(t, receipt.ID, published.ID)
	assert.NotEmpty(t, published.ID)
	assert.False(t, published.CommittedAt.IsZero())
}

func TestResolveAccount(t *testing.T) {
	f := newFixture(t, 3)

	account, err := f.coordinator.ResolveAccount(context.Background(), testCaller)
	require.NoError(t, err)
	assert.Equal(t, testAccount, account)

	f.repo.UnlinkAccount(testCaller)
	_, err = f.coordinator.ResolveAccount(context.Background(), testCaller)
	assert.ErrorIs(t, err, exchange.ErrUnlinkedAccount)
}

func TestExchangeAmulets_WithdrawBeforeDeposit(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.repo.RegisterAmulet(exchange.Amulet{ID: 1})
	_, err := f.coordinator.ExchangeAmulets(ctx, testCaller, []exchange.AmuletID{1}, nil)
	require.NoError(t, err)

	// the deposit only succeeds once the withdrawal released custody and ownership
	receipt, err := f.coordinator.ExchangeAmulets(ctx, testCaller, []exchange.AmuletID{1}, []exchange.AmuletID{1})
	require.NoError(t, err)
	assert.Len(t, receipt.Withdrawals, 1)
	assert.Len(t, receipt.Deposits, 1)
	assert.Equal(t, []exchange.AmuletID{1}, f.inventory(t, testCharacter))
	assert.Equal(t, testCharacter, ownerOf(f.amulet(t, 1)))
}

func TestExchangeAmulets_FilledWhileHeld(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.repo.RegisterAmulet(exchange.Amulet{ID: 30})
	_, err := f.coordinator.ExchangeAmulets(ctx, testCaller, []exchange.AmuletID{30}, nil)
	require.NoError(t, err)

	owner := testCharacter
	f.repo.RegisterAmulet(exchange.Amulet{ID: 30, Owner: &owner, Payload: 5})

	_, err = f.coordinator.ExchangeAmulets(ctx, testCaller, nil, []exchange.AmuletID{30})
	require.ErrorIs(t, err, exchange.ErrAmuletNotEmpty)
	assert.Equal(t, []exchange.AmuletID{30}, f.inventory(t, testCharacter))
	assert.Equal(t, testCharacter, ownerOf(f.amulet(t, 30)))
}

func TestExchangeAmulets_OwnedElsewhere(t *testing.T) {
	f := newFixture(t, 3)
	owner := otherChar
	f.repo.RegisterAmulet(exchange.Amulet{ID: 9, Owner: &owner})

	_, err := f.coordinator.ExchangeAmulets(context.Background(), testCaller, []exchange.AmuletID{9}, nil)
	require.ErrorIs(t, err, exchange.ErrAlreadyOwned)
	e, ok := exchange.AsError(err)
	require.True(t, ok)
	assert.Equal(t, otherChar, e.CharacterID)
	assert.Equal(t, otherChar, ownerOf(f.amulet(t, 9)))
	assert.Empty(t, f.inventory(t, testCharacter))
}

func TestExchangeFilledAmulets_WithdrawBeforeDeposit(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.repo.RegisterAmulet(exchange.Amulet{ID: 21, Payload: 1})
	_, err := f.coordinator.ExchangeFilledAmulets(ctx, testCaller, []exchange.AmuletID{21}, nil)
	require.NoError(t, err)

	_, err = f.coordinator.ExchangeFilledAmulets(ctx, testCaller, []exchange.AmuletID{21}, []exchange.AmuletID{21})
	require.NoError(t, err)
	assert.Equal(t, []exchange.AmuletID{21}, f.belt(t, testCharacter))
	assert.Equal(t, testCharacter, ownerOf(f.amulet(t, 21)))
}

func TestExchangeFilledAmulets_EmptiedWhileHeld(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.repo.RegisterAmulet(exchange.Amulet{ID: 31, Payload: 1})
	f.repo.RegisterAmulet(exchange.Amulet{ID: 32, Payload: 2})
	_, err := f.coordinator.ExchangeFilledAmulets(ctx, testCaller, []exchange.AmuletID{31, 32}, nil)
	require.NoError(t, err)

	owner := testCharacter
	f.repo.RegisterAmulet(exchange.Amulet{ID: 31, Owner: &owner})

	_, err = f.coordinator.ExchangeFilledAmulets(ctx, testCaller, nil, []exchange.AmuletID{31})
	require.ErrorIs(t, err, exchange.ErrAmuletNotFilled)
	assert.Equal(t, []exchange.AmuletID{31, 32}, f.belt(t, testCharacter))
}

func TestExchangeShips_OwnedElsewhere(t *testing.T) {
	f := newFixture(t, 3)
	f.repo.RegisterShip(14, otherChar)

	_, err := f.coordinator.ExchangeShips(context.Background(), testCaller, []exchange.ShipID{14}, nil)
	require.ErrorIs(t, err, exchange.ErrAlreadyOwned)
	_, has := f.ship(t, testCharacter)
	assert.False(t, has)
	id, _ := f.ship(t, otherChar)
	assert.Equal(t, exchange.ShipID(14), id)

	// custody of 14 was rolled back
	_, err = f.coordinator.ExchangeShips(context.Background(), otherCaller, nil, []exchange.ShipID{14})
	assert.ErrorIs(t, err, exchange.ErrInsufficientCustody)
}

func TestExchange_Overflow(t *testing.T) {
	t.Run("currency balance", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeCurrencies(context.Background(), testCaller, exchange.CurrencyExchange{DepositRunix: math.MaxInt64})
		require.NoError(t, err)

		_, err = f.coordinator.ExchangeCurrencies(context.Background(), testCaller, exchange.CurrencyExchange{DepositRunix: 1})
		require.ErrorIs(t, err, exchange.ErrQuantityOverflow)
		e, ok := exchange.AsError(err)
		require.True(t, ok)
		assert.Equal(t, exchange.CurrencyRunix, e.Currency)
		assert.Equal(t, int64(math.MaxInt64), f.balance(t, testCharacter, exchange.CurrencyRunix))
	})

	t.Run("item stack in a single call", func(t *testing.T) {
		f := newFixture(t, 3)
		_, err := f.coordinator.ExchangeItems(context.Background(), testCaller, exchange.ItemExchange{
			DepositIDs:        []exchange.ItemID{100, 100},
			DepositQuantities: []int64{math.MaxInt64, 1},
		})
		require.ErrorIs(t, err, exchange.ErrQuantityOverflow)
		assert.Zero(t, f.quantity(t, testCharacter, 100))
	})
}
