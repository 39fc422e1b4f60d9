package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/config"
	"github.com/Dicklesworthstone/cmdgate/internal/metrics"
	"github.com/Dicklesworthstone/cmdgate/internal/notify"
	"github.com/Dicklesworthstone/cmdgate/internal/server"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

var (
	flagServeAddr     string
	flagServeLogLevel string
)

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "listen address (default: server.addr)")
	serveCmd.Flags().StringVar(&flagServeLogLevel, "log-level", "", "log level (default: server.log_level)")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and WebSocket event stream",
	Long: `Serve the gateway over HTTP until interrupted.

Clients authenticate with the X-API-Key header. Events are pushed to
WebSocket clients on /ws and, when notifications.redis_url is set, published
to Redis channels <redis_prefix>:<topic>. Prometheus metrics are served on
/metrics unless server.metrics_enabled is false.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, project, err := loadConfig()
		if err != nil {
			return err
		}
		addr := cfg.Server.Addr
		if flagServeAddr != "" {
			addr = flagServeAddr
		}
		level := cfg.Server.LogLevel
		if flagServeLogLevel != "" {
			level = flagServeLogLevel
		}

		logger, logFile, err := utils.InitServerLogger(config.StateDir(project), level)
		if err != nil {
			return err
		}
		defer logFile.Close()
		utils.SetDefaultLogger(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var bus notify.Multi
		var hub *notify.Hub
		if cfg.Notifications.WebSocketEnabled {
			hub = notify.NewHub(logger.WithPrefix("ws"))
			bus = append(bus, hub)
		}
		if cfg.Notifications.RedisURL != "" {
			redisBus, err := notify.DialRedis(ctx, cfg.Notifications.RedisURL, cfg.Notifications.RedisPrefix)
			if err != nil {
				return fmt.Errorf("connecting to redis: %w", err)
			}
			defer redisBus.Close()
			bus = append(bus, redisBus)
		}
		if cfg.Notifications.DesktopEnabled {
			desktop := notify.NewDesktop(nil, logger.WithPrefix("desktop"))
			go desktop.Run(ctx)
			bus = append(bus, desktop)
		}

		opts := appOptions{logger: logger, bus: bus}
		srvOpts := server.Options{
			Hub:               hub,
			Logger:            logger.WithPrefix("http"),
			RequestsPerMinute: cfg.Server.RequestsPerMinute,
			Burst:             cfg.Server.Burst,
			AuditLimit:        cfg.History.AuditLimit,
		}
		if cfg.Server.MetricsEnabled {
			prom := metrics.NewProm("cmdgate")
			opts.metrics = prom
			srvOpts.Metrics = prom
			srvOpts.MetricsHandler = prom.Handler()
		}

		a, err := openApp(cmd, opts)
		if err != nil {
			return err
		}
		defer a.Close()
		srvOpts.Gateway = a.gw

		srv, err := server.New(srvOpts)
		if err != nil {
			return err
		}
		logger.Info("serving", "addr", addr, "db", a.store.Path(), "risk", cfg.Risk.Provider,
			"websocket", hub != nil, "redis", cfg.Notifications.RedisURL != "", "desktop", cfg.Notifications.DesktopEnabled)
		return srv.ListenAndServe(ctx, addr)
	},
}
