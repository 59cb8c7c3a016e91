package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/platinummonkey/onramp/pkg/config"
	"github.com/platinummonkey/onramp/pkg/identity"
	"github.com/platinummonkey/onramp/pkg/observability"
	"github.com/platinummonkey/onramp/pkg/onboarding"
	"github.com/platinummonkey/onramp/pkg/store"
)

// newOnboardingService wires config, database, and provider client together
// for one command invocation. The returned cleanup closes the database.
func newOnboardingService(ctx context.Context) (*onboarding.Service, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	providerID, err := cfg.Provider.ProviderID()
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	cleanup := func() { db.Close() }

	provider, err := identity.NewRESTClient(ctx, identity.RESTConfig{
		BaseURL:      cfg.Provider.BaseURL,
		IssuerURL:    cfg.Provider.IssuerURL,
		TokenURL:     cfg.Provider.TokenURL,
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		Scopes:       cfg.Provider.Scopes,
		Timeout:      cfg.Provider.Timeout,
	}, logger, nil)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	svc := onboarding.NewService(provider, store.NewPostgresStore(db), providerID, logger, nil)
	return svc, cleanup, nil
}
