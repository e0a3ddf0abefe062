package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/codefionn/scriptserve/internal/admin"
	"github.com/codefionn/scriptserve/internal/config"
	"github.com/codefionn/scriptserve/internal/engine"
	"github.com/codefionn/scriptserve/internal/logger"
	"github.com/codefionn/scriptserve/internal/metrics"
	"github.com/codefionn/scriptserve/internal/payload"
	"github.com/codefionn/scriptserve/internal/pidfile"
	"github.com/codefionn/scriptserve/internal/socketserver"
)

type serveOptions struct {
	configPath     string
	host           string
	port           int
	format         string
	engine         string
	logLevel       string
	logPath        string
	adminAddress   string
	pidFile        string
	maxConnections int
	execTimeoutMS  int
	watch          bool
}

var serveOpts serveOptions

// serveCmd runs the script server until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the script server",
	Long: `Start the TCP script server. Settings are read from the config file,
then from SCRIPTSERVE_* environment variables, then from flags.

The first SIGINT or SIGTERM stops accepting connections and lets live
connections finish the request they are serving. A second signal closes
every live connection.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cmd.Flags())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	bindServeFlags(serveCmd.Flags(), &serveOpts)
}

func bindServeFlags(flags *pflag.FlagSet, opts *serveOptions) {
	flags.StringVar(&opts.configPath, "config", "", "Config file, JSON or YAML (default "+config.GetConfigPath()+")")
	flags.StringVar(&opts.host, "host", "", "Listen host")
	flags.IntVar(&opts.port, "port", 0, "Listen port")
	flags.StringVar(&opts.format, "format", "", "Response payload format: json (A) or cbor (B)")
	flags.StringVar(&opts.engine, "engine", "", fmt.Sprintf("Script engine: %v", engine.Names()))
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error, none")
	flags.StringVar(&opts.logPath, "log-path", "", "Log file (default stderr)")
	flags.StringVar(&opts.adminAddress, "admin", "", "Admin HTTP address, e.g. localhost:9090")
	flags.StringVar(&opts.pidFile, "pidfile", "", "Write the process id to this file")
	flags.IntVar(&opts.maxConnections, "max-connections", 0, "Maximum concurrent connections, 0 for no limit")
	flags.IntVar(&opts.execTimeoutMS, "exec-timeout", 0, "Per-script time limit in milliseconds, 0 for none")
	flags.BoolVar(&opts.watch, "watch", true, "Reload the log level when the config file changes")
}

// loadServeConfig loads the config file and applies the flags that were
// set explicitly on top of it
func loadServeConfig(flags *pflag.FlagSet, opts serveOptions) (*config.Config, string, error) {
	path := opts.configPath
	if path == "" {
		path = config.GetConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}

	if flags.Changed("host") {
		cfg.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("format") {
		cfg.PayloadFormat = opts.format
	}
	if flags.Changed("engine") {
		cfg.Engine = opts.engine
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("log-path") {
		cfg.LogPath = opts.logPath
	}
	if flags.Changed("admin") {
		cfg.AdminAddress = opts.adminAddress
	}
	if flags.Changed("pidfile") {
		cfg.PidFile = opts.pidFile
	}
	if flags.Changed("max-connections") {
		cfg.MaxConnections = opts.maxConnections
	}
	if flags.Changed("exec-timeout") {
		cfg.ExecTimeoutMS = opts.execTimeoutMS
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, flags *pflag.FlagSet) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, cfgPath, err := loadServeConfig(flags, serveOpts)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Level(), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Global().Close()

	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return err
	}
	serializer, err := payload.Lookup(cfg.PayloadFormat)
	if err != nil {
		return err
	}

	if cfg.PidFile != "" {
		pf := pidfile.New(cfg.PidFile)
		if err := pf.Acquire(); err != nil {
			return err
		}
		defer func() {
			if releaseErr := pf.Release(); releaseErr != nil {
				logger.Warn("Failed to remove pid file: %v", releaseErr)
			}
		}()
	}

	collector := metrics.New(metrics.DefaultNamespace)

	server, err := socketserver.NewServer(socketserver.Options{
		Address:        cfg.Address(),
		Serializer:     serializer,
		Executor:       engine.NewExecutor(eng, engine.WithTimeout(cfg.ExecTimeout())),
		PollInterval:   cfg.PollInterval(),
		MaxScriptSize:  cfg.MaxScriptSize,
		MaxConnections: cfg.MaxConnections,
		Metrics:        collector,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return err
	}

	if cfg.AdminAddress != "" {
		adminServer := admin.NewServer(server, collector.Handler())
		if err := adminServer.Start(cfg.AdminAddress); err != nil {
			server.Shutdown()
			server.Wait()
			return err
		}
		defer func() {
			if stopErr := adminServer.Stop(context.Background()); stopErr != nil {
				logger.Warn("Failed to stop admin server: %v", stopErr)
			}
		}()
	}

	if serveOpts.watch {
		watchConfig(ctx, cfgPath, server)
	}

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received %s, shutting down", sig)
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigChan:
			logger.Warn("Received %s again, closing %d live connections", sig, server.ActiveConnections())
			server.CloseConnections()
		case <-done:
		}
	}()

	server.Wait()
	close(done)
	logger.Info("Script server exited")
	return nil
}

// watchConfig applies the log level of every valid reload. The other
// settings need a restart.
func watchConfig(ctx context.Context, path string, server *socketserver.Server) {
	err := config.Watch(ctx, path, func(cfg *config.Config) {
		server.SetLogLevel(cfg.Level())
	})
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("Not watching %s: %v", path, err)
		return
	}
	if err != nil {
		logger.Warn("Not watching %s: %v", path, err)
	}
}
