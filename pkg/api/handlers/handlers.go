package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cbodonnell/flywheel-exchange/pkg/api/middleware"
	"github.com/cbodonnell/flywheel-exchange/pkg/exchange"
	"github.com/cbodonnell/flywheel-exchange/pkg/repositories"
)

// maxRequestBytes bounds exchange request bodies.
const maxRequestBytes = 1 << 20

// Exchanger is the set of exchange operations served over HTTP.
type Exchanger interface {
	ExchangeAmulets(ctx context.Context, caller exchange.Caller, deposits, withdrawals []exchange.AmuletID) (*exchange.Receipt, error)
	ExchangeFilledAmulets(ctx context.Context, caller exchange.Caller, deposits, withdrawals []exchange.AmuletID) (*exchange.Receipt, error)
	ExchangeCurrencies(ctx context.Context, caller exchange.Caller, req exchange.CurrencyExchange) (*exchange.Receipt, error)
	ExchangeItems(ctx context.Context, caller exchange.Caller, req exchange.ItemExchange) (*exchange.Receipt, error)
	ExchangeShips(ctx context.Context, caller exchange.Caller, deposits, withdrawals []exchange.ShipID) (*exchange.Receipt, error)
	ResolveAccount(ctx context.Context, caller exchange.Caller) (exchange.AccountID, error)
}

type AmuletsRequest struct {
	Deposit  []exchange.AmuletID `json:"deposit"`
	Withdraw []exchange.AmuletID `json:"withdraw"`
}

type ShipsRequest struct {
	Deposit  []exchange.ShipID `json:"deposit"`
	Withdraw []exchange.ShipID `json:"withdraw"`
}

// ErrorResponse is the body of every failed exchange request. Exchange
// failures carry their code and parameters.
type ErrorResponse struct {
	*exchange.Error
	Message string `json:"message"`
}

func HandleExchangeAmulets(exchanger Exchanger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveExchange(w, r, func(ctx context.Context, caller exchange.Caller) (*exchange.Receipt, error) {
			req := AmuletsRequest{}
			if err := decodeRequest(w, r, &req); err != nil {
				return nil, err
			}
			return exchanger.ExchangeAmulets(ctx, caller, req.Deposit, req.Withdraw)
		})
	}
}

func HandleExchangeFilledAmulets(exchanger Exchanger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveExchange(w, r, func(ctx context.Context, caller exchange.Caller) (*exchange.Receipt, error) {
			req := AmuletsRequest{}
			if err := decodeRequest(w, r, &req); err != nil {
				return nil, err
			}
			return exchanger.ExchangeFilledAmulets(ctx, caller, req.Deposit, req.Withdraw)
		})
	}
}

func HandleExchangeCurrencies(exchanger Exchanger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveExchange(w, r, func(ctx context.Context, caller exchange.Caller) (*exchange.Receipt, error) {
			req := exchange.CurrencyExchange{}
			if err := decodeRequest(w, r, &req); err != nil {
				return nil, err
			}
			return exchanger.ExchangeCurrencies(ctx, caller, req)
		})
	}
}

func HandleExchangeItems(exchanger Exchanger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveExchange(w, r, func(ctx context.Context, caller exchange.Caller) (*exchange.Receipt, error) {
			req := exchange.ItemExchange{}
			if err := decodeRequest(w, r, &req); err != nil {
				return nil, err
			}
			return exchanger.ExchangeItems(ctx, caller, req)
		})
	}
}

func HandleExchangeShips(exchanger Exchanger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveExchange(w, r, func(ctx context.Context, caller exchange.Caller) (*exchange.Receipt, error) {
			req := ShipsRequest{}
			if err := decodeRequest(w, r, &req); err != nil {
				return nil, err
			}
			return exchanger.ExchangeShips(ctx, caller, req.Deposit, req.Withdraw)
		})
	}
}

func HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string {
	return e.err.Error()
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return &badRequestError{fmt.Errorf("failed to decode request: %v", err)}
	}
	return nil
}

func serveExchange(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, caller exchange.Caller) (*exchange.Receipt, error)) {
	logger := middleware.Logger(r.Context())

	caller, ok := middleware.Caller(r.Context())
	if !ok {
		logger.Error("failed to get caller from context")
		http.Error(w, "Failed to get caller from context", http.StatusInternalServerError)
		return
	}

	receipt, err := fn(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(receipt); err != nil {
		logger.Error("failed to encode receipt: %v", err)
	}
}

// StatusCode maps an exchange failure to an HTTP status.
func StatusCode(err error) int {
	var badRequest *badRequestError
	if errors.As(err, &badRequest) {
		return http.StatusBadRequest
	}
	if repositories.IsNotFound(err) {
		return http.StatusNotFound
	}

	e, ok := exchange.AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case exchange.CodeUnlinkedAccount, exchange.CodeSoulboundAmulet, exchange.CodeNotOwner:
		return http.StatusForbidden
	case exchange.CodeAmuletNotEmpty, exchange.CodeAmuletNotFilled, exchange.CodeTooManyShips,
		exchange.CodeMismatchedItems, exchange.CodeInvalidQuantity, exchange.CodeInvalidAmount:
		return http.StatusBadRequest
	case exchange.CodeInvalidWorldState, exchange.CodeBeltOverflow, exchange.CodeBeltEmpty,
		exchange.CodeAlreadyInCustody, exchange.CodeShipSlotOccupied, exchange.CodeAlreadyOwned:
		return http.StatusConflict
	case exchange.CodeInsufficientCustody, exchange.CodeInsufficientBalance, exchange.CodeInsufficientItems,
		exchange.CodeAssetNotHeld, exchange.CodeQuantityOverflow:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)

	body := ErrorResponse{Message: err.Error()}
	if e, ok := exchange.AsError(err); ok {
		body.Error = e
	}
	if status == http.StatusInternalServerError {
		body.Message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
