package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cbodonnell/flywheel-exchange/pkg/api"
	authproviders "github.com/cbodonnell/flywheel-exchange/pkg/auth/providers"
	"github.com/cbodonnell/flywheel-exchange/pkg/clients"
	"github.com/cbodonnell/flywheel-exchange/pkg/config"
	"github.com/cbodonnell/flywheel-exchange/pkg/exchange"
	"github.com/cbodonnell/flywheel-exchange/pkg/log"
	"github.com/cbodonnell/flywheel-exchange/pkg/repositories"
	"github.com/cbodonnell/flywheel-exchange/pkg/version"
	"github.com/cbodonnell/flywheel-exchange/pkg/workers"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	parsedLogLevel, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting exchange server version %s", version.Get())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repository, err := newRepository(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to create repository: %v", err))
	}
	defer repository.Close(context.Background())

	authProvider, err := authproviders.NewFirebaseAuthProvider(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to create Firebase auth provider: %v", err))
	}

	receiptChan := make(chan *exchange.Receipt, cfg.ReceiptBuffer)
	coordinator := exchange.NewCoordinator(exchange.NewCoordinatorOptions{
		Transactor:  repository,
		ReceiptChan: receiptChan,
	})

	clientEvents := clients.NewClientEventManager()
	clientEvents.RegisterHandler(func(event clients.ClientEvent) {
		log.Debug("Feed client %d %s for account %s", event.ClientID, event.Type, event.AccountID)
	})
	clientManager := clients.NewClientManager(clients.NewClientManagerOptions{
		Events: clientEvents,
	})

	receiptWorker := workers.NewReceiptWorker(workers.NewReceiptWorkerOptions{
		ClientManager: clientManager,
		ReceiptChan:   receiptChan,
	})
	go receiptWorker.Start(ctx)

	apiServerOpts := api.NewAPIServerOptions{
		Port:          cfg.Port,
		AuthProvider:  authProvider,
		Exchanger:     coordinator,
		ClientManager: clientManager,
	}
	if cfg.TLS.Enabled() {
		apiServerOpts.TLS = &api.TLSConfig{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		}
	}
	server := api.NewAPIServer(apiServerOpts)
	go server.Start()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop server: %v", err)
	}
}

func newRepository(ctx context.Context, cfg config.Config) (repositories.Repository, error) {
	switch cfg.DatabaseScheme() {
	case config.SchemeSQLite:
		return repositories.NewSQLiteRepository(ctx, cfg.SQLitePath(), cfg.Migrations, cfg.BeltCapacity)
	case config.SchemePostgres:
		return repositories.NewPostgresRepository(ctx, cfg.DatabaseURL, cfg.Migrations, cfg.BeltCapacity)
	case config.SchemeMemory:
		log.Warn("Using an in-memory repository, records are lost on exit")
		return repositories.NewMemoryRepository(cfg.BeltCapacity), nil
	default:
		return nil, fmt.Errorf("unknown database type %s", cfg.DatabaseScheme())
	}
}
