package repositories

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/cbodonnell/flywheel-exchange/pkg/exchange"
)

// DefaultBeltCapacity is the number of filled amulets a belt holds when no
// capacity is configured.
const DefaultBeltCapacity = 5

// Repository owns every record the exchange touches and runs exchanges as
// transactions over them.
type Repository interface {
	exchange.Transactor
	Close(ctx context.Context) error
}

// ErrNotFound is returned when a record does not exist.
type ErrNotFound struct {
	What string
}

func (e *ErrNotFound) Error() string {
	if e.What == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.What)
}

func IsNotFound(err error) bool {
	var notFound *ErrNotFound
	return errors.As(err, &notFound)
}

// custodyKey identifies one custody position. Unique assets use their id
// as asset key, currencies use their kind.
type custodyKey struct {
	account  exchange.AccountID
	class    exchange.AssetClass
	assetKey string
}

func idKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// overflows reports whether adding quantity to held exceeds MaxInt64.
func overflows(held, quantity int64) bool {
	return quantity > 0 && held > math.MaxInt64-quantity
}

// overflowError reports a custody position that would exceed MaxInt64.
func overflowError(class exchange.AssetClass, assetKey string, id int64) error {
	if class == exchange.AssetClassCurrency {
		return exchange.CurrencyOverflow(exchange.CurrencyKind(assetKey))
	}
	return exchange.QuantityOverflow(class, id)
}
