package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/visitline/internal/api"
	"github.com/zulandar/visitline/internal/conflict"
	"github.com/zulandar/visitline/internal/logging"
	"github.com/zulandar/visitline/internal/route"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		noMonitor  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the punch compliance monitor",
		Long: `Starts the HTTP API for routes, visits, stock approvals, work schedules
and the time clock. Unless disabled in config or with --no-monitor, the punch
compliance monitor runs alongside it on the configured cron schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, noMonitor)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Visitline config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	cmd.Flags().BoolVar(&noMonitor, "no-monitor", false, "do not run the compliance monitor")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, noMonitor bool) error {
	cfg, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "visitline")
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker, closeTracker, err := newTracker(ctx, cfg, gormDB)
	if err != nil {
		return fmt.Errorf("presence: %w", err)
	}
	defer closeTracker()

	routes, err := route.NewManager(route.ManagerOpts{
		DB:             gormDB,
		GeofenceRadius: cfg.Geofence.RadiusMeters,
		Presence:       tracker,
		Locker:         conflict.NewLocker(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Start(ctx, api.StartOpts{
			DB:          gormDB,
			Routes:      routes,
			Presence:    tracker,
			JWTSecret:   cfg.Server.JWTSecret,
			Port:        cfg.Server.Port,
			Location:    cfg.Location(),
			EarlyMargin: time.Duration(cfg.Access.EarlyMarginMinutes) * time.Minute,
			Logger:      logger,
			Out:         cmd.OutOrStdout(),
		})
	})

	if cfg.Compliance.Enabled && !noMonitor {
		monitor, err := newMonitor(cfg, gormDB, tracker, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return monitor.Run(ctx) })
	}

	return g.Wait()
}
