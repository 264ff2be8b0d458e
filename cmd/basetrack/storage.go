package main

import (
	"fmt"
	"os"

	"github.com/goodtune/basetrack/internal/config"
	"github.com/goodtune/basetrack/internal/presence"
	"github.com/goodtune/basetrack/internal/storage"
	"github.com/goodtune/basetrack/internal/storage/bolt"
	"github.com/goodtune/basetrack/internal/storage/file"
	"github.com/goodtune/basetrack/internal/storage/redis"
	"github.com/goodtune/basetrack/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

func openStorage(cfg config.StorageConfig) (storage.StateStore, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = config.StorageFile
	}

	switch storageType {
	case config.StorageFile:
		return file.Open(cfg.Path)
	case config.StorageBolt:
		return bolt.Open(cfg.Path)
	case config.StorageRedis:
		return redis.Open(cfg.Redis)
	case config.StorageSQLite:
		return sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// openTracker loads the configuration and builds a tracker on the configured
// backend for one-shot commands. The returned store must be closed by the
// caller.
func openTracker() (*presence.Tracker, *presence.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Only problems reach the terminal; stdout carries the command output.
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Logger()

	backend, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	store := presence.NewStore(backend, logger)
	channels := presence.NewChannelSet(cfg.Tracking.MonitoredChannels...)
	tracker := presence.NewTracker(store, channels, presence.RealClock{}, logger)

	return tracker, store, nil
}
