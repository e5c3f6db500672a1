package handlers

import (
	"context"
	"net/http"

	"github.com/cbodonnell/flywheel-exchange/pkg/api/middleware"
	"github.com/cbodonnell/flywheel-exchange/pkg/clients"
	"github.com/cbodonnell/flywheel-exchange/pkg/network"
)

// HandleFeed upgrades the request to a WebSocket and streams the receipts
// of the caller's account until the peer leaves or ctx is done.
func HandleFeed(ctx context.Context, exchanger Exchanger, clientManager *clients.ClientManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := middleware.Logger(r.Context())

		caller, ok := middleware.Caller(r.Context())
		if !ok {
			logger.Error("failed to get caller from context")
			http.Error(w, "Failed to get caller from context", http.StatusInternalServerError)
			return
		}

		accountID, err := exchanger.ResolveAccount(r.Context(), caller)
		if err != nil {
			writeError(w, err)
			return
		}

		conn, err := network.Upgrade(w, r)
		if err != nil {
			logger.Warn("%v", err)
			return
		}

		client, err := clientManager.AddClient(accountID)
		if err != nil {
			logger.Error("failed to add feed client: %v", err)
			conn.Close()
			return
		}
		defer clientManager.RemoveClient(client.ID)

		logger.Debug("Feed client %d subscribed to account %s", client.ID, accountID)
		if err := network.ServeFeed(ctx, conn, client.Send); err != nil {
			logger.Warn("Feed client %d: %v", client.ID, err)
		}
	}
}
