package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"github.com/illmade-knight/panic-signal/app"
	"github.com/illmade-knight/panic-signal/internal/clients"
	firestorestorage "github.com/illmade-knight/panic-signal/internal/storage/firestore"
	sqlitestorage "github.com/illmade-knight/panic-signal/internal/storage/sqlite"
	"github.com/illmade-knight/panic-signal/pkg/registry"
	"github.com/illmade-knight/panic-signal/pkg/relationships"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(logLevel(os.Getenv(EnvLogLevel)))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(logger).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(logger zerolog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "panicctl",
		Short:         "Manage panic responders and send panic triggers",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "", "Path to config file (default $"+EnvConfig+" or "+defaultConfigPath+")")
	root.PersistentFlags().Bool("json", false, "Output in JSON format")

	root.AddCommand(
		newRespondersCommand(logger),
		newEnableCommand(logger, true),
		newEnableCommand(logger, false),
		newPartnerCommand(logger),
		newTriggerCommand(logger),
		newServeCommand(logger),
	)
	return root
}

// runtime is an assembled App plus the resources to release afterwards.
type runtime struct {
	cfg     Config
	app     *app.App
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func openRuntime(cmd *cobra.Command, logger zerolog.Logger) (*runtime, error) {
	flagPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath(flagPath))
	if err != nil {
		return nil, err
	}
	return buildRuntime(cmd.Context(), cfg, logger)
}

func buildRuntime(ctx context.Context, cfg Config, logger zerolog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	store, err := openStore(ctx, cfg.Store, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Delivery.Timeout}
	if cfg.Delivery.ClientCert != "" || cfg.Delivery.CACert != "" {
		httpClient, err = clients.NewTLSHTTPClient(cfg.Delivery.ClientCert, cfg.Delivery.ClientKey, cfg.Delivery.CACert, cfg.Delivery.Timeout)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}

	senders := app.Senders{
		Interactive: clients.NewInteractiveClient(httpClient, logger),
	}
	if cfg.Delivery.PubsubProjectID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.Delivery.PubsubProjectID)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
		}
		publisher := clients.NewBroadcastPublisher(psClient, logger)
		rt.closers = append(rt.closers, func() { _ = psClient.Close() }, publisher.Stop)
		senders.Broadcast = publisher
	}
	if cfg.Delivery.RoutingServiceURL != "" {
		router := clients.NewRoutingServiceClient(cfg.Delivery.RoutingServiceURL, httpClient, logger)
		senders.Service = clients.NewServiceSender(cfg.SelfID, router, logger)
	}

	host := registry.NewManifestHost(cfg.ManifestDir, logger)
	rt.app = app.New(cfg.SelfID, store, host, senders, logger)
	return rt, nil
}

func openStore(ctx context.Context, cfg StoreConfig, rt *runtime) (relationships.Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return relationships.NewInMemoryStore(), nil
	case BackendFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create Firestore client: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = fsClient.Close() })
		return firestorestorage.NewRelationshipStore(fsClient, cfg.CollectionPrefix), nil
	default:
		store, err := sqlitestorage.Open(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })
		return store, nil
	}
}
