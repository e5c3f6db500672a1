package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cbodonnell/flywheel-exchange/pkg/api/handlers"
	"github.com/cbodonnell/flywheel-exchange/pkg/api/middleware"
	authproviders "github.com/cbodonnell/flywheel-exchange/pkg/auth/providers"
	"github.com/cbodonnell/flywheel-exchange/pkg/clients"
	"github.com/cbodonnell/flywheel-exchange/pkg/log"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
	cancel context.CancelFunc
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port          int
	TLS           *TLSConfig
	AuthProvider  authproviders.AuthProvider
	Exchanger     handlers.Exchanger
	ClientManager *clients.ClientManager
}

// NewAPIServer creates a new http.Server for handling exchange requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	// feed connections outlive their request context, so they follow this one
	feedCtx, cancel := context.WithCancel(context.Background())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(feedCtx, opts),
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
		cancel: cancel,
	}
}

// NewRouter builds the API routes.
func NewRouter(feedCtx context.Context, opts NewAPIServerOptions) http.Handler {
	authMiddleware := middleware.NewAuthMiddleware(opts.AuthProvider)

	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(middleware.NewRequestIDMiddleware()))
	r.Handle("/healthz", handlers.HandleHealthz()).Methods(http.MethodGet)

	exchangeRouter := r.PathPrefix("/exchange").Subrouter()
	exchangeRouter.Use(mux.MiddlewareFunc(authMiddleware))
	exchangeRouter.Handle("/amulets", gzhttp.GzipHandler(handlers.HandleExchangeAmulets(opts.Exchanger))).Methods(http.MethodPost)
	exchangeRouter.Handle("/filled-amulets", gzhttp.GzipHandler(handlers.HandleExchangeFilledAmulets(opts.Exchanger))).Methods(http.MethodPost)
	exchangeRouter.Handle("/currencies", gzhttp.GzipHandler(handlers.HandleExchangeCurrencies(opts.Exchanger))).Methods(http.MethodPost)
	exchangeRouter.Handle("/items", gzhttp.GzipHandler(handlers.HandleExchangeItems(opts.Exchanger))).Methods(http.MethodPost)
	exchangeRouter.Handle("/ships", gzhttp.GzipHandler(handlers.HandleExchangeShips(opts.Exchanger))).Methods(http.MethodPost)
	exchangeRouter.Handle("/feed", handlers.HandleFeed(feedCtx, opts.Exchanger, opts.ClientManager)).Methods(http.MethodGet)

	return r
}

// Start blocks serving requests until the APIServer is stopped
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop closes feed connections and waits for in-flight requests
func (s *APIServer) Stop(ctx context.Context) error {
	s.cancel()
	return s.server.Shutdown(ctx)
}
