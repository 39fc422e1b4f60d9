package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/config"
	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/metrics"
	"github.com/Dicklesworthstone/cmdgate/internal/notify"
	"github.com/Dicklesworthstone/cmdgate/internal/risk"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

// app bundles what a command needs to talk to the gateway.
type app struct {
	cfg     config.Config
	project string
	store   *db.DB
	gw      *core.Gateway
	logger  *log.Logger
	closers []func() error
}

type appOptions struct {
	logger  *log.Logger
	bus     notify.Bus
	metrics metrics.Metrics
}

func loadConfig() (config.Config, string, error) {
	project, err := projectPath()
	if err != nil {
		return config.Config{}, "", err
	}
	cfg, err := config.Load(config.LoadOptions{
		ProjectDir: project,
		ConfigPath: flagConfig,
	})
	if err != nil {
		return config.Config{}, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, project, nil
}

// openApp loads config, opens and migrates the store, and builds a gateway.
func openApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, project, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := opts.logger
	if logger == nil {
		level := "warn"
		if flagVerbose {
			level = "debug"
		}
		logger = utils.InitLogger(utils.LoggerOptions{Level: level, Output: cmd.ErrOrStderr(), Prefix: "cmdgate"})
	}

	path := flagDB
	if path == "" {
		path = config.DatabasePath(cfg, project)
	}
	store, err := db.OpenAndMigrate(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	gwOpts, err := gatewayOptions(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	gwOpts.Bus = opts.bus
	gwOpts.Metrics = opts.metrics

	gw, err := core.NewGateway(store, gwOpts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &app{
		cfg:     cfg,
		project: project,
		store:   store,
		gw:      gw,
		logger:  logger,
		closers: []func() error{store.Close},
	}, nil
}

// gatewayOptions maps configuration onto gateway options.
func gatewayOptions(cfg config.Config, logger *log.Logger) (core.Options, error) {
	oracle, err := risk.New(risk.ProviderOptions{
		Provider:  cfg.Risk.Provider,
		OllamaURL: cfg.Risk.OllamaURL,
		Model:     cfg.Risk.Model,
	})
	if err != nil {
		return core.Options{}, err
	}
	guard := risk.NewGuard(oracle, risk.GuardOptions{
		Timeout:       time.Duration(cfg.Risk.TimeoutSecs) * time.Second,
		FailSafeScore: cfg.Risk.FailSafeScore,
		Logger:        logger.WithPrefix("risk"),
	})
	return core.Options{
		MaxCommandLength:    cfg.General.MaxCommandLength,
		AllowedChars:        cfg.General.AllowedChars,
		DefaultCredits:      cfg.General.DefaultCredits,
		RequiredApprovals:   cfg.Approvals.RequiredApprovals,
		ApprovalThreshold:   cfg.Approvals.ApprovalThreshold,
		AllowDuplicateVotes: cfg.Approvals.AllowDuplicateVotes,
		AllowSelfApproval:   cfg.Approvals.AllowSelfApproval,
		Assessor:            guard,
		Logger:              logger,
	}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
}

// actor resolves --as (or CMDGATE_API_KEY) to a user. An API key is tried
// first, then a user name.
func (a *app) actor(ctx context.Context) (*db.User, error) {
	ref := strings.TrimSpace(flagActor)
	if ref == "" {
		ref = strings.TrimSpace(os.Getenv("CMDGATE_API_KEY"))
	}
	if ref == "" {
		return nil, fmt.Errorf("%w: no acting user; pass --as <name|api-key> or set CMDGATE_API_KEY", core.ErrUnauthorized)
	}

	u, err := a.gw.Authenticate(ctx, ref)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, core.ErrUnauthorized) {
		return nil, err
	}
	u, err = a.store.GetUserByName(ctx, ref)
	if errors.Is(err, db.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: unknown user %q", core.ErrUnauthorized, ref)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// resolveUser accepts a numeric ID or a user name.
func (a *app) resolveUser(ctx context.Context, ref string) (*db.User, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		u, err := a.store.GetUser(ctx, id)
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: user %d", core.ErrNotFound, id)
		}
		return u, err
	}
	u, err := a.store.GetUserByName(ctx, ref)
	if errors.Is(err, db.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: user %q", core.ErrNotFound, ref)
	}
	return u, err
}

// adminActor is actor restricted to admins.
func (a *app) adminActor(ctx context.Context) (*db.User, error) {
	u, err := a.actor(ctx)
	if err != nil {
		return nil, err
	}
	if !u.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", core.ErrForbidden)
	}
	return u, nil
}
