package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/basetrack/internal/api"
	"github.com/goodtune/basetrack/internal/config"
	"github.com/goodtune/basetrack/internal/logging"
	"github.com/goodtune/basetrack/internal/metrics"
	"github.com/goodtune/basetrack/internal/presence"
	"github.com/goodtune/basetrack/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start basetrack server",
	Long:  `Start the basetrack server with the transition and query API, the weekly reset scheduler and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger, logCloser := logging.New(cfg.Logging)
	defer func() { _ = logCloser.Close() }()
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting basetrack")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	backend, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	store := presence.NewStore(backend, logger)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	channels := presence.NewChannelSet(cfg.Tracking.MonitoredChannels...)
	tracker := presence.NewTracker(store, channels, presence.RealClock{}, logger)

	logger.Info().
		Strs("monitored_channels", channels.IDs()).
		Msg("Presence tracker initialized")

	// Initialize weekly reset scheduler
	var resetScheduler *presence.ResetScheduler
	if cfg.Reset.Enabled {
		loc, err := cfg.Reset.Location()
		if err != nil {
			return fmt.Errorf("failed to load reset timezone: %w", err)
		}
		resetScheduler, err = presence.NewResetScheduler(tracker, cfg.Reset.Schedule, loc, logger)
		if err != nil {
			return fmt.Errorf("failed to create reset scheduler: %w", err)
		}
	} else {
		logger.Info().Msg("Built-in weekly reset disabled, expecting an external scheduler")
	}

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	// Initialize API Server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(apiAddr, tracker, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := startServers(logger, metricsServer, apiServer); err != nil {
		return err
	}

	if resetScheduler != nil {
		resetScheduler.Start()
	}

	logger.Info().Msg("basetrack startup complete")
	logger.Info().Msgf("API: http://%s/api/v1", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	var watchdog <-chan time.Time
	if interval := systemd.WatchdogInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		watchdog = ticker.C
		logger.Debug().Dur("interval", interval).Msg("systemd watchdog enabled")
	}

	// Wait for signals (shutdown or log rotation)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

loop:
	for {
		select {
		case <-watchdog:
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
			}

		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info().Msg("SIGHUP received, reopening log file")
				if rotator, ok := logCloser.(interface{ Rotate() error }); ok {
					if err := rotator.Rotate(); err != nil {
						logger.Error().Err(err).Msg("Failed to rotate log file")
					}
				}
				continue
			}

			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			break loop
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop servers
	if resetScheduler != nil {
		resetScheduler.Stop()
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("basetrack stopped")

	return nil
}

// service is a background server with a start/stop lifecycle.
type service interface {
	Start() error
	Stop() error
}

// startServers starts services in order. When one fails, those already
// running are stopped in reverse order.
func startServers(logger zerolog.Logger, services ...service) error {
	for i, svc := range services {
		if err := svc.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := services[j].Stop(); stopErr != nil {
					logger.Error().Err(stopErr).Msg("Error stopping server after failed startup")
				}
			}
			return fmt.Errorf("failed to start server: %w", err)
		}
	}
	return nil
}
