package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/spice-rules/internal/advisory"
	"github.com/Veraticus/spice-rules/internal/api/handlers"
	"github.com/Veraticus/spice-rules/internal/config"
	"github.com/Veraticus/spice-rules/internal/discovery"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/rules"
	"github.com/Veraticus/spice-rules/internal/service"
	"github.com/Veraticus/spice-rules/internal/storage"
	"github.com/Veraticus/spice-rules/internal/taxonomy"
)

// app wires every service a command needs over one database.
type app struct {
	cfg          *config.Config
	db           *storage.SQLiteStorage
	store        *rules.Store
	resolver     *taxonomy.Resolver
	orchestrator *engine.Orchestrator
	conflicts    *engine.ConflictResolver
	miner        *discovery.Miner
	advisor      *advisory.Advisor
	logger       *slog.Logger
}

// openApp loads the configuration, opens and migrates the database, and builds the services.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger := slog.Default()
	a := &app{cfg: cfg, db: db, logger: logger}

	// A nil *advisory.Advisor stored in the interface would not read as "no advisor".
	var advisor service.Advisor
	if cfg.Advisory.Enabled() {
		a.advisor, err = advisory.NewFromConfig(advisory.Config{
			Provider:   cfg.Advisory.Provider,
			APIKey:     cfg.Advisory.APIKey,
			Model:      cfg.Advisory.Model,
			BaseURL:    cfg.Advisory.BaseURL,
			MaxRetries: cfg.Advisory.MaxRetries,
			RateLimit:  cfg.Advisory.RateLimit,
			CacheTTL:   cfg.Advisory.CacheTTL,
		}, logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize advisor: %w", err)
		}
		advisor = a.advisor
	}

	userID := cfg.User.ID
	a.resolver = taxonomy.NewResolver(db)
	a.store = rules.NewStore(db, a.resolver, userID, logger)
	a.orchestrator = engine.NewOrchestrator(db, a.store, a.resolver, userID, engine.Config{
		Workers:  cfg.Reapply.Workers,
		PageSize: cfg.Reapply.PageSize,
	}, logger)
	a.conflicts = engine.NewConflictResolver(db, a.store, a.resolver, advisor, a.orchestrator, userID, logger)
	a.miner = discovery.NewMiner(db, a.store, userID, discovery.Config{
		MinOccurrences:  cfg.Discovery.MinOccurrences,
		Limit:           cfg.Discovery.Limit,
		SignatureLength: cfg.Discovery.SignatureLength,
		PageSize:        cfg.Reapply.PageSize,
	}, logger)

	return a, nil
}

func (a *app) Close() {
	if a.advisor != nil {
		if err := a.advisor.Close(); err != nil {
			slog.Error("failed to close advisor", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		slog.Error("failed to close storage", "error", err)
	}
}

func (a *app) services() *handlers.Services {
	return &handlers.Services{
		Transactions: a.db,
		Rules:        a.store,
		Taxonomy:     a.resolver,
		Orchestrator: a.orchestrator,
		Conflicts:    a.conflicts,
		Miner:        a.miner,
		Logger:       a.logger,
		UserID:       a.cfg.User.ID,
	}
}
