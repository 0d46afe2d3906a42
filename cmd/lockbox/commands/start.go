package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	jwtauth "github.com/lockboxhq/lockbox/internal/api/auth"
	"github.com/lockboxhq/lockbox/internal/logger"
	"github.com/lockboxhq/lockbox/pkg/api"
	"github.com/lockboxhq/lockbox/pkg/cloud/iam"
	"github.com/lockboxhq/lockbox/pkg/cloud/kms"
	"github.com/lockboxhq/lockbox/pkg/config"
	"github.com/lockboxhq/lockbox/pkg/metrics"
	"github.com/lockboxhq/lockbox/pkg/vault/authn"
	"github.com/lockboxhq/lockbox/pkg/vault/lifecycle"
	"github.com/lockboxhq/lockbox/pkg/vault/store"
	"github.com/lockboxhq/lockbox/pkg/vault/sweeper"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Lockbox server",
	Long: `Start the Lockbox server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/lockbox/config.yaml.

Examples:
  # Start in background (default)
  lockbox start

  # Start in foreground
  lockbox start --foreground

  # Start with custom config file
  lockbox start --config /etc/lockbox/config.yaml

  # Start with environment variable overrides
  LOCKBOX_LOGGING_LEVEL=DEBUG lockbox start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/lockbox/lockbox.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/lockbox/lockbox.log)")
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

	if cfg.AWS.AccountID == "" {
		return fmt.Errorf("aws.account_id is required to start the server")
	}
	if !cfg.API.HasJWTSecret() {
		return fmt.Errorf("no JWT secret configured: set api.jwt.secret or %s", api.EnvJWTSecret)
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics before anything that consults metrics.IsEnabled()
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled")
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Control plane store (boxes, grants, key records)
	cpStore, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize control plane store: %w", err)
	}

	// AWS clients for key and role provisioning
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if cfg.AWS.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		logger.Info("AWS endpoint overridden", "endpoint", cfg.AWS.Endpoint)
	}
	keyClient := kms.NewAWSClient(awsCfg, cfg.AWS.AccountID)
	identityClient := iam.NewAWSClient(awsCfg, cfg.AWS.AccountID)

	// Core services
	lifecycleManager := lifecycle.New(cpStore, keyClient, identityClient, lifecycle.Config{
		RoleNamePrefix:    cfg.Lifecycle.RoleNamePrefix,
		PendingWindowDays: cfg.Lifecycle.PendingWindowDays,
	})
	authenticator := authn.New(cpStore, lifecycleManager, identityClient, keyClient, authn.Config{
		TTL:              cfg.Authn.TTL,
		MaxVerifyRetries: cfg.Authn.MaxVerifyRetries,
	})
	sw := sweeper.New(cpStore, keyClient, identityClient, lifecycleManager, sweeper.Config{
		Parallelism: cfg.Sweeper.Parallelism,
		Interval:    cfg.Sweeper.Interval,
	})

	jwtService, err := jwtauth.NewJWTService(jwtauth.JWTConfig{
		Secret:        cfg.API.GetJWTSecret(),
		TokenDuration: cfg.API.JWT.TokenDuration,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	apiServer := api.NewServer(cfg.API, api.Deps{
		Store:         cpStore,
		Lifecycle:     lifecycleManager,
		Authenticator: authenticator,
		Sweeper:       sw,
		JWTService:    jwtService,
	})
	logger.Info("API server configured", "port", apiServer.Port())

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Background reconciliation sweeper
	go sw.Run(ctx, cfg.Sweeper.ThresholdDays)

	// Start API server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()

	// Create state directory if it doesn't exist
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Set default PID file if not specified
	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(stateDir, "lockbox.pid")
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("lockbox is already running (PID %d)", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	// Set default log file if not specified
	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(stateDir, "lockbox.log")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Build arguments for the daemon process
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

	fmt.Printf("Lockbox started in background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)

	return nil
}
