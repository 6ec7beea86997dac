package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vbonduro/checklistsync/internal/config"
	"github.com/vbonduro/checklistsync/internal/db"
	"github.com/vbonduro/checklistsync/internal/events"
	"github.com/vbonduro/checklistsync/internal/logging"
	"github.com/vbonduro/checklistsync/internal/media"
	"github.com/vbonduro/checklistsync/internal/notify"
	"github.com/vbonduro/checklistsync/internal/objectstore"
	"github.com/vbonduro/checklistsync/internal/objectstore/local"
	"github.com/vbonduro/checklistsync/internal/provision"
	"github.com/vbonduro/checklistsync/internal/service"
	"github.com/vbonduro/checklistsync/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "checklistd",
	Short:         "Property inspection checklist synchronization",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app is the wired dependency graph shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sql.DB
	objects objectstore.Store
	hub     *events.Hub
	service *service.ChecklistService
	cleanup func()
}

// newApp loads configuration and wires storage and the checklist service.
// withEvents adds the websocket hub as the event publisher; without it
// events are discarded.
func newApp(withEvents bool) (*app, error) {
	cfg := config.Load()

	logger, closeLog, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	objects, err := local.NewLocalStore(cfg.MediaPath, cfg.MediaBaseURL)
	if err != nil {
		_ = database.Close()
		closeLog()
		return nil, fmt.Errorf("failed to initialize media store: %w", err)
	}

	var hub *events.Hub
	var publisher events.Publisher = events.Discard{}
	if withEvents {
		hub = events.NewHub(logger)
		publisher = hub
	}

	correlator := media.NewCorrelator(objects, media.Options{
		Concurrency:  cfg.UploadConcurrency,
		Rate:         cfg.UploadRate,
		MaxDimension: cfg.PhotoMaxDimension,
	}, logger)

	svc := service.NewChecklistService(
		service.Repositories{
			Properties:  store.NewPropertyStore(database),
			Inspections: store.NewInspectionStore(database),
			Zones:       store.NewZoneStore(database),
			Elements:    store.NewElementStore(database),
		},
		correlator,
		newNotifier(cfg, logger),
		publisher,
		service.Options{
			Provision: provision.Options{MaxAttempts: cfg.ProvisionMaxAttempts, Backoff: cfg.ProvisionBackoff},
			Debounce:  cfg.SaveDebounce,
		},
		logger,
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      database,
		objects: objects,
		hub:     hub,
		service: svc,
		cleanup: func() {
			svc.Close()
			if err := database.Close(); err != nil {
				logger.Error("failed to close database", "error", err)
			}
			closeLog()
		},
	}, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if cfg.NotifyWebhookURL == "" {
		logger.Info("no notification webhook configured, logging notifications only")
		return notify.NewLogNotifier(logger)
	}
	logger.Info("using webhook notifier", "url", cfg.NotifyWebhookURL)
	return notify.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyTimeout, logger)
}
