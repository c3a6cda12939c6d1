package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/ridewallet/internal/agent"
	"github.com/ent0n29/ridewallet/internal/audit"
	"github.com/ent0n29/ridewallet/internal/config"
	"github.com/ent0n29/ridewallet/internal/httpapi"
	"github.com/ent0n29/ridewallet/internal/observability"
	"github.com/ent0n29/ridewallet/internal/prompt"
	"github.com/ent0n29/ridewallet/internal/session"
	"github.com/ent0n29/ridewallet/internal/tools"
	"github.com/ent0n29/ridewallet/internal/wallet"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Sessions   *session.Manager
	Dispatcher *tools.Dispatcher
	Audit      audit.Store
	Metrics    *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB pool).
	Cleanup func() error
}

// Options lets tests swap process-wide collaborators.
type Options struct {
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}

	auditStore, err := audit.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit store init failed: %w", err)
	}

	client, err := wallet.NewClient(wallet.Config{
		BaseURL:   cfg.WalletAPIBaseURL,
		Timeout:   cfg.WalletAPITimeout,
		RateLimit: cfg.WalletAPIRateLimit,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		_ = auditStore.Close()
		return nil, fmt.Errorf("wallet client init failed: %w", err)
	}

	dispatcher, err := tools.NewDispatcher(tools.Config{
		Backend:   client,
		Providers: wallet.NewProviderSet(cfg.TransitProviders),
		Audit:     auditStore,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		_ = auditStore.Close()
		return nil, fmt.Errorf("tool dispatcher init failed: %w", err)
	}

	instructions := prompt.Load(cfg.PromptFile, logger)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ObserveSessionEvent("expired", sessions.ActiveCount())
		logger.Info("session expired", zap.String("session_id", s.ID))
	})

	newAgent := func(sessionID, username, authKey string) (*agent.Agent, error) {
		return agent.New(sessionID, username, authKey, agent.Options{
			Dispatcher:    dispatcher,
			Audit:         auditStore,
			Instructions:  instructions,
			BalanceMaxAge: cfg.PurchaseBalanceMaxAge,
			Logger:        logger,
		})
	}

	api := httpapi.New(cfg, sessions, newAgent, auditStore.Mode(), metrics, logger)

	cleanup := func() error {
		var errs []string
		if err := auditStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	logger.Info("app built",
		zap.String("wallet_api", cfg.WalletAPIBaseURL),
		zap.Strings("providers", cfg.TransitProviders),
		zap.String("audit_mode", auditStore.Mode()),
		zap.Bool("instructions_loaded", instructions != ""),
	)

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Audit:      auditStore,
		Metrics:    metrics,
		Cleanup:    cleanup,
	}, nil
}
