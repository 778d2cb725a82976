// Package control wires configuration into a running API client: credential
// store, token manager, platform client, and the health server.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/veylan/armory/internal/auth"
	"github.com/veylan/armory/internal/config"
	"github.com/veylan/armory/internal/credstore"
	"github.com/veylan/armory/internal/health"
	"github.com/veylan/armory/internal/platform"
)

// App is the assembled process: one client instance, one token manager,
// one health server. No hidden package-level state; tests can build as many
// isolated Apps as they like.
type App struct {
	Client *platform.Client
	Tokens *auth.Manager

	health     *health.Server
	log        *slog.Logger
	closeStore func() error
}

// New assembles an App from configuration.
func New(cfg *config.AppConfig, log *slog.Logger) (*App, error) {
	store, closeStore, err := NewStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to init credential store: %w", err)
	}
	log.Info("Credential store initialized", "type", cfg.Store.Type)

	tokens := auth.NewManager(cfg.OAuth, store, nil, log, func() {
		log.Warn("Session invalidated, re-authentication required")
	})

	client := platform.NewClient(platform.Config{
		Transport: platform.NewHTTPTransport(cfg.Platform.BaseURL, cfg.Platform.APIKey, cfg.Platform.Timeout),
		Tokens:    tokens,
		Pacing:    NewPacingTable(cfg.Pacing),
		Logger:    log,
		OnMaintenanceChange: func(down bool) {
			if down {
				log.Warn("Platform entered maintenance mode")
			} else {
				log.Info("Platform left maintenance mode")
			}
		},
	})

	return &App{
		Client:     client,
		Tokens:     tokens,
		health:     health.NewServer(client, cfg.Server.Port),
		log:        log,
		closeStore: closeStore,
	}, nil
}

// Start launches the dispatch worker and the health server.
func (a *App) Start(ctx context.Context) error {
	a.Client.Start(ctx)
	go func() {
		if err := a.health.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts everything down in dependency order.
func (a *App) Stop(ctx context.Context) error {
	a.Client.Close()
	if err := a.health.Stop(ctx); err != nil {
		return err
	}
	if a.closeStore != nil {
		return a.closeStore()
	}
	return nil
}

// NewStore builds the configured credential store. The returned closer may
// be nil for stores with nothing to release.
func NewStore(cfg config.StoreConfig) (auth.Store, func() error, error) {
	switch cfg.Type {
	case "", "memory":
		return credstore.NewMemory(), nil, nil
	case "file":
		if cfg.Path == "" {
			return nil, nil, fmt.Errorf("store.path is required for the file store")
		}
		return credstore.NewFile(cfg.Path), nil, nil
	case "redis":
		store, err := credstore.NewRedis(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "postgres":
		store, err := credstore.NewPostgres(context.Background(), cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// NewPacingTable builds the pacing table from config, falling back to the
// built-in defaults when no overrides are given.
func NewPacingTable(cfg config.PacingConfig) *platform.PacingTable {
	if len(cfg.Families) == 0 {
		return platform.NewPacingTable(nil, cfg.GlobalMin)
	}
	families := make([]platform.Family, 0, len(cfg.Families))
	for _, f := range cfg.Families {
		families = append(families, platform.Family{
			Name:          f.Name,
			Match:         f.Match,
			MinInterval:   f.MinInterval,
			StateChanging: f.StateChanging,
		})
	}
	return platform.NewPacingTable(families, cfg.GlobalMin)
}
