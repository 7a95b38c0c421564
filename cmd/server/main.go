package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/yourusername/wistia-offline-go/api"
	"github.com/yourusername/wistia-offline-go/internal/app"
	"github.com/yourusername/wistia-offline-go/internal/domain"
	"github.com/yourusername/wistia-offline-go/internal/infrastructure"
	"github.com/yourusername/wistia-offline-go/pkg/logger"
)

const version = "1.0.0"

var configPath = flag.String("config", "", "Path to config file (default: search ./configs, ~/.wistia-offline, /etc/wistia-offline)")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wistia-offline-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := createDirectories(config); err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// transfer and error categories, read back by the log endpoints
	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Storage.LogsDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize category logs: %w", err)
	}
	defer multiLog.Close()

	log.Info("Starting wistia-offline server",
		zap.String("version", version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.String("ledger_backend", config.Ledger.Backend),
		zap.String("assets_dir", config.Storage.AssetsDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := infrastructure.NewLedgerStore(ctx, config.Ledger)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	assets, err := infrastructure.NewAssetStore(afero.NewOsFs(), config.Storage.AssetsDir)
	if err != nil {
		return fmt.Errorf("failed to open asset store: %w", err)
	}

	engine := infrastructure.NewHLSEngine(
		infrastructure.HLSEngineConfigFrom(config.Engine),
		assets,
		nil,
		log.Named("engine"),
	)

	wistia, err := infrastructure.NewWistiaClient(config.Wistia, nil, log.Named("wistia"))
	if err != nil {
		return fmt.Errorf("failed to create wistia client: %w", err)
	}

	observers := app.NewObserverRegistry(log)
	manager := app.NewPersistenceManager(
		app.NewLedger(store),
		engine,
		wistia,
		assets,
		observers,
		log.Named("manager"),
		multiLog,
	)

	notifier := infrastructure.NewNotificationService(&config.Notification, log.Named("notify"))
	manager.AddGlobalObserver(notifier.Observe)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start persistence manager: %w", err)
	}

	router := api.SetupRouter(api.RouterConfig{
		Manager:     manager,
		Account:     wistia,
		Assets:      assets.HTTPFileSystem(),
		RelPath:     assets.RelativePath,
		LogsDir:     config.Storage.LogsDir,
		Version:     version,
		Logger:      log,
		MultiLogger: multiLog,
	})

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("HTTP server failed", zap.Error(err))
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests first so no command races the manager shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// In-flight transfers stay journaled and resume on next start
	if err := manager.Stop(); err != nil {
		log.Error("Error stopping persistence manager", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}

func createDirectories(config *domain.Config) error {
	dirs := []string{
		config.Storage.AssetsDir,
		config.Storage.LogsDir,
	}
	if config.Ledger.Backend == domain.LedgerBackendSQLite {
		dirs = append(dirs, filepath.Dir(config.Ledger.DatabasePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
