package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/brunoscheufler/notepad/cli"
	"github.com/brunoscheufler/notepad/config"
	"github.com/brunoscheufler/notepad/constants"
	"github.com/brunoscheufler/notepad/notes"
	"github.com/brunoscheufler/notepad/restapi"
	"github.com/brunoscheufler/notepad/store"
	"github.com/brunoscheufler/notepad/telemetry"
	"github.com/brunoscheufler/notepad/util"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	// Environment first, flags override
	cfg := &config.Config{}
	envErr := config.ParseEnv(cfg)

	var serve bool

	root := &cobra.Command{
		Use:          "notepad",
		Short:        "A notes manager for the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd.Context(), *cfg, serve)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.HostURL, "host", cfg.HostURL, "Host storage API base URL; local storage is used when empty or unreachable")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for local notes and the host database")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.IDScheme, "id-scheme", cfg.IDScheme, "Note id scheme (uuid or ulid)")
	flags.IntVar(&cfg.MaxPendingWrites, "max-pending-writes", cfg.MaxPendingWrites, "Queued note writes before the oldest is discarded")
	flags.DurationVar(&cfg.FlushTimeout, "flush-timeout", cfg.FlushTimeout, "How long to wait for pending writes on exit")

	edit := newEditCmd(cfg, &serve)
	addEditFlags(root, cfg, &serve)

	root.AddCommand(edit)
	root.AddCommand(newServeCmd(cfg))
	root.AddCommand(newListCmd(cfg))
	root.AddCommand(newAddCmd(cfg))
	root.AddCommand(newRmCmd(cfg))
	return root
}

func newEditCmd(cfg *config.Config, serve *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Open the note editor (default)",
		Long: `Open the terminal note editor.

Examples:
  # Edit notes stored locally
  notepad edit

  # Edit notes through a running host
  notepad edit --host http://localhost:8080

  # Run the host and the editor together, with the typing simulator
  notepad edit --serve --gen --rpm 120`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd.Context(), *cfg, *serve)
		},
	}
	addEditFlags(cmd, cfg, serve)
	return cmd
}

func addEditFlags(cmd *cobra.Command, cfg *config.Config, serve *bool) {
	cmd.Flags().StringVar(&cfg.Theme, "theme", cfg.Theme, "Editor theme (dark or light)")
	cmd.Flags().BoolVar(serve, "serve", false, "Also run the host storage API and edit through it")
	cmd.Flags().StringVar(&cfg.Port, "port", cfg.Port, "Port for the host storage API")
	cmd.Flags().BoolVar(&cfg.EnableGen, "gen", cfg.EnableGen, "Run the typing simulator")
	cmd.Flags().IntVar(&cfg.RequestsPerMin, "rpm", cfg.RequestsPerMin, "Typing simulator operations per minute")
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host storage API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *cfg, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&cfg.Port, "port", cfg.Port, "Port to run the HTTP server on")
	cmd.Flags().BoolVar(&cfg.EnableGen, "gen", cfg.EnableGen, "Run the typing simulator against the server")
	cmd.Flags().IntVar(&cfg.RequestsPerMin, "rpm", cfg.RequestsPerMin, "Typing simulator operations per minute")
	return cmd
}

func newTelemetry(cfg config.Config, cliMode bool, output io.Writer) *telemetry.Telemetry {
	tel := telemetry.New(
		telemetry.WithCLIMode(cliMode),
		telemetry.WithLogLevel(cfg.LogLevel),
		telemetry.WithOutput(output),
	)
	tel.SetupLogging()
	return tel
}

func newNoteStore(cfg config.Config, gateway store.Gateway, tel *telemetry.Telemetry) (*notes.Store, error) {
	newID, err := notes.GeneratorByName(cfg.IDScheme)
	if err != nil {
		return nil, err
	}

	return notes.New(gateway,
		notes.WithLogger(tel.GetLogger()),
		notes.WithStatsCollector(tel.GetStatsCollector()),
		notes.WithIDGenerator(newID),
		notes.WithMaxPendingWrites(cfg.MaxPendingWrites),
	), nil
}

// closeNoteStore drains pending writes, giving up after the flush timeout
func closeNoteStore(noteStore *notes.Store, cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.FlushTimeout)
	defer cancel()

	if err := noteStore.Close(ctx); err != nil {
		logger.Warn("Pending note writes were not saved", "pending", noteStore.PendingWrites(), "error", err)
		return fmt.Errorf("failed to save pending notes: %w", err)
	}
	return nil
}

type gatewayOptions struct {
	fs          afero.Fs
	healthRetry util.RetryConfig
	logger      *slog.Logger
}

func defaultGatewayOptions(logger *slog.Logger) gatewayOptions {
	return gatewayOptions{
		fs: afero.NewOsFs(),
		healthRetry: util.RetryConfig{
			MaxRetries:      constants.MaxHealthCheckRetries,
			BaseDelay:       constants.HealthCheckRetryInterval,
			MaxDelay:        constants.HealthCheckRetryInterval,
			ShouldRetryFunc: util.RetryAll,
		},
		logger: logger,
	}
}

// openGateway picks the host when one is configured and healthy, otherwise the local
// fallback. The returned label describes the choice for the status bar.
func openGateway(ctx context.Context, cfg config.Config, opts gatewayOptions) (store.Gateway, string) {
	if cfg.HostURL != "" {
		host := restapi.NewHostGateway(cfg.HostURL)
		err := checkServerHealth(ctx, host, opts.healthRetry)
		if err == nil {
			opts.logger.Info("Using host storage", "url", cfg.HostURL)
			return host, "host " + cfg.HostURL
		}
		opts.logger.Warn("Host storage unavailable, falling back to local storage", "url", cfg.HostURL, "error", err)
	}

	dir := filepath.Join(cfg.DataDir, constants.LocalStoreDir)
	opts.logger.Info("Using local storage", "dir", dir)
	kv := store.NewFileKeyValue(opts.fs, dir)
	return store.NewLocalGateway(kv, opts.logger), "local " + dir
}

// checkServerHealth validates that the host is ready by calling /healthz
func checkServerHealth(ctx context.Context, checker store.HealthChecker, retry util.RetryConfig) error {
	return util.Retry(ctx, retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
		defer cancel()
		return checker.HealthCheck(ctx)
	})
}

// checkPortAvailable checks if the given address is available for binding
func checkPortAvailable(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %s is not available: %w", addr, err)
	}
	listener.Close()
	return nil
}

// hostServer is the host storage API over the SQLite gateway
type hostServer struct {
	httpServer *http.Server
	backend    *store.SQLiteGateway
	logger     *slog.Logger
}

func newHostServer(cfg config.Config, tel *telemetry.Telemetry) (*hostServer, error) {
	addr := cfg.ListenAddr()
	if err := checkPortAvailable(addr); err != nil {
		return nil, err
	}

	options := store.DefaultStoreOptions(constants.HostDatabaseName)
	options.BasePath = cfg.DataDir
	backend, err := store.NewSQLiteGateway(options)
	if err != nil {
		return nil, fmt.Errorf("could not create note database: %w", err)
	}

	server := restapi.NewServer(
		restapi.WithBackend(backend),
		restapi.WithTelemetry(tel),
	)

	return &hostServer{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           server.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		backend: backend,
		logger:  tel.GetLogger(),
	}, nil
}

// URL is where clients on this machine reach the server
func (h *hostServer) URL() string {
	_, port, err := net.SplitHostPort(h.httpServer.Addr)
	if err != nil {
		port = constants.DefaultPort
	}
	return "http://localhost:" + port
}

// run serves until ctx is done, then shuts down gracefully
func (h *hostServer) run(ctx context.Context) error {
	defer h.backend.Close()

	serverError := make(chan error, 1)
	go func() {
		h.logger.Info("Server starting", "addr", h.httpServer.Addr)
		if err := h.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverError <- err
		}
	}()

	select {
	case err := <-serverError:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	h.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := h.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func runServe(ctx context.Context, cfg config.Config, output io.Writer) error {
	tel := newTelemetry(cfg, false, output)
	defer tel.Stop()
	logger := tel.GetLogger()

	server, err := newHostServer(cfg, tel)
	if err != nil {
		return err
	}

	// The server outlives ctx until the simulator has drained its writes
	serverCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServer()
	g, gctx := errgroup.WithContext(serverCtx)

	g.Go(func() error { return server.run(gctx) })
	g.Go(func() error {
		defer stopServer()

		simCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stopOnServerExit := context.AfterFunc(gctx, cancel)
		defer stopOnServerExit()

		if !cfg.EnableGen {
			<-simCtx.Done()
			return nil
		}
		return runSimulatorAgainstHost(simCtx, cfg, server.URL(), tel)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped", "error", err)
		return err
	}
	return nil
}

// runSimulatorAgainstHost drives a note store through the host API until ctx is done
func runSimulatorAgainstHost(ctx context.Context, cfg config.Config, url string, tel *telemetry.Telemetry) error {
	logger := tel.GetLogger()
	host := restapi.NewHostGateway(url)
	if err := checkServerHealth(ctx, host, defaultGatewayOptions(logger).healthRetry); err != nil {
		return fmt.Errorf("server failed health check: %w", err)
	}

	noteStore, err := newNoteStore(cfg, host, tel)
	if err != nil {
		return err
	}

	time.Sleep(constants.SimulatorStartDelay)
	noteStore.Load(ctx)

	sim := NewSimulator(noteStore, host, logger, SimulatorOptions{RequestsPerMin: cfg.RequestsPerMin})
	if err := sim.Start(); err != nil {
		_ = closeNoteStore(noteStore, cfg, logger)
		return err
	}

	<-ctx.Done()
	sim.Stop()

	// The server shuts down with ctx, so only drain what it still accepts
	return closeNoteStore(noteStore, cfg, logger)
}

func runEdit(ctx context.Context, cfg config.Config, serve bool) error {
	tel := newTelemetry(cfg, true, io.Discard)
	defer tel.Stop()
	logger := tel.GetLogger()

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	g, serverCtx := errgroup.WithContext(serverCtx)

	if serve {
		server, err := newHostServer(cfg, tel)
		if err != nil {
			return err
		}
		g.Go(func() error { return server.run(serverCtx) })
		cfg.HostURL = server.URL()
	}

	gateway, backend := openGateway(ctx, cfg, defaultGatewayOptions(logger))
	noteStore, err := newNoteStore(cfg, gateway, tel)
	if err != nil {
		stopServer()
		return errors.Join(err, g.Wait())
	}

	var sim *Simulator
	if cfg.EnableGen {
		sim = NewSimulator(noteStore, gateway, logger, SimulatorOptions{RequestsPerMin: cfg.RequestsPerMin})
		go func() {
			time.Sleep(constants.SimulatorStartDelay)
			if err := sim.Start(); err != nil {
				logger.Error("Typing simulator failed to start", "error", err)
			}
		}()
	}

	cliErr := cli.RunCLI(noteStore, tel, cli.CLIOptions{
		Theme:   cfg.Theme,
		Backend: backend,
	})

	if sim != nil {
		sim.Stop()
		verifyCtx, cancel := context.WithTimeout(context.Background(), cfg.FlushTimeout)
		if err := sim.Verify(verifyCtx); err != nil {
			logger.Warn("Typing simulator found inconsistencies", "error", err)
		}
		cancel()
	}

	closeErr := closeNoteStore(noteStore, cfg, logger)

	// Shut the server down only after pending writes reached it
	stopServer()
	serverErr := g.Wait()

	return errors.Join(cliErr, closeErr, serverErr)
}
