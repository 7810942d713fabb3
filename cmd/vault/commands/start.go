package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/datashield/vault/internal/logger"
	"github.com/datashield/vault/pkg/api"
	"github.com/datashield/vault/pkg/auth"
	"github.com/datashield/vault/pkg/catalog"
	"github.com/datashield/vault/pkg/config"
	"github.com/datashield/vault/pkg/health"
	"github.com/datashield/vault/pkg/metrics"
	"github.com/datashield/vault/pkg/store/breaker"
	"github.com/datashield/vault/pkg/store/s3"
	"github.com/datashield/vault/pkg/syncer"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

// limiterPruneInterval bounds the memory held by dormant client/collection
// failure windows.
const limiterPruneInterval = 10 * time.Minute

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the vault server",
	Long: `Start the vault server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/vault/config.yaml.

Examples:
  # Start in background (default)
  vault start

  # Start in foreground
  vault start --foreground

  # Start with custom config file
  vault start --config /etc/vault/config.yaml

  # Start with environment variable overrides
  VAULT_LOGGING_LEVEL=DEBUG vault start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/vault/vault.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/vault/vault.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("Vault - file to object store synchronization gateway")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// The collections root must exist before anything watches it
	if err := os.MkdirAll(cfg.Syncer.Root, 0755); err != nil {
		return fmt.Errorf("failed to create collections root %s: %w", cfg.Syncer.Root, err)
	}

	m := metrics.New()

	// The catalog is mandatory; refusing to start beats serving stale data
	cat, err := catalog.New(&cfg.Catalog)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer func() { _ = cat.Close() }()
	logger.Info("Catalog ready", "type", cfg.Catalog.Type)

	// Object store behind the circuit breaker. An unreachable store is not
	// fatal: the breaker opens and the health endpoint reports it.
	s3Store, err := s3.NewFromConfig(ctx, cfg.Store, m.StoreObserver())
	if err != nil {
		return fmt.Errorf("failed to configure object store: %w", err)
	}
	if err := s3Store.EnsureBucket(ctx); err != nil {
		logger.Error("Failed to ensure bucket, continuing degraded",
			"bucket", cfg.Store.Bucket, "error", err)
	} else {
		logger.Info("Object store ready", "endpoint", cfg.Store.Endpoint, "bucket", cfg.Store.Bucket)
	}

	brk := breaker.New("store", cfg.Breaker, func(state breaker.State) {
		if state == breaker.StateOpen {
			m.BreakerOpen.Set(1)
		} else {
			m.BreakerOpen.Set(0)
		}
	})
	guarded := breaker.NewGuardedStore(s3Store, brk)

	limiter := auth.NewLimiter(cfg.Limiter, nil)
	go func() {
		ticker := time.NewTicker(limiterPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Prune()
			}
		}
	}()

	sync := syncer.New(cfg.Syncer, cat, guarded, m)

	// Startup scan reconciles disk state accumulated while the service was
	// down, before the watcher is armed.
	if err := sync.Scan(ctx); err != nil {
		logger.Error("Startup scan failed", "error", err)
	}

	if err := sync.Watcher().Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	logger.Info("Watcher armed", "root", cfg.Syncer.Root)

	supervisor := syncer.NewSupervisor(sync.Watcher(), syncer.DefaultSupervisorInterval, func() {
		m.WatcherRestarts.Inc()
	})
	go supervisor.Run(ctx)

	syncDone := make(chan struct{})
	go func() {
		sync.Run(ctx)
		close(syncDone)
	}()

	checker := health.NewChecker(cat, guarded, sync.Watcher(), brk, cfg.Syncer.Root, m)

	auditor := health.NewAuditor(cfg.Auditor, cat, guarded, sync, m)
	go auditor.Run(ctx)

	apiServer := api.NewServer(cfg.Server, api.Deps{
		Catalog: cat,
		Store:   guarded,
		Syncer:  sync,
		Checker: checker,
		Auditor: auditor,
		Limiter: limiter,
		Metrics: m,
	})

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	var serverErr error
	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

	case serverErr = <-serverDone:
		signal.Stop(sigChan)
		cancel()
		if serverErr != nil {
			logger.Error("Server error", "error", serverErr)
		}
		serverDone = nil
	}

	if err := shutdown(cfg.ShutdownTimeout, sync, serverDone, syncDone); err != nil {
		return err
	}
	return serverErr
}

// shutdown stops the watcher, then waits for the HTTP server (when still
// running) and the in-flight ingestion pipelines to drain, bounded by the
// configured timeout. A nil serverDone means the server already exited.
func shutdown(timeout time.Duration, sync *syncer.Syncer, serverDone <-chan error, syncDone <-chan struct{}) error {
	sync.Watcher().Stop()

	deadline := time.After(timeout)

	if serverDone != nil {
		select {
		case err := <-serverDone:
			if err != nil {
				logger.Error("Server shutdown error", "error", err)
				return err
			}
		case <-deadline:
			logger.Warn("Shutdown timeout waiting for HTTP server")
			return fmt.Errorf("shutdown timed out after %s", timeout)
		}
	}

	select {
	case <-syncDone:
	case <-deadline:
		logger.Warn("Shutdown timeout waiting for in-flight pipelines")
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	// Determine state directory for PID and log files
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	vaultStateDir := filepath.Join(stateDir, "vault")

	if err := os.MkdirAll(vaultStateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(vaultStateDir, "vault.pid")
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("vault is already running (PID %d)", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(vaultStateDir, "vault.log")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	daemon := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	daemon.Stdout = logFileHandle
	daemon.Stderr = logFileHandle

	// Detach from parent process
	daemon.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := daemon.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("Vault started in background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)

	return nil
}
