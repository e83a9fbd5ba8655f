package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "priomatrix",
		Short: "Priority matrix to-do service",
		Long: `priomatrix serves shareable to-do lists whose items are placed on an
urgency/impact grid, and manages the underlying database.`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "path to a TOML config file (default ./"+DefaultConfigFile+" if present)")
	pf.String("database-driver", "", "database driver: sqlite or postgres")
	pf.String("database-url", "", "database DSN or sqlite file path")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "json or console")
	pf.Int("max-lists", 0, "maximum number of lists kept before the oldest are evicted")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(listsCmd())
	root.AddCommand(pruneCmd())
	root.AddCommand(showCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(importFileCmd())
	root.AddCommand(hashTokenCmd())
	return root
}

// resolveConfig layers explicitly set flags over the file and environment config.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	fs := cmd.Flags()
	path, _ := fs.GetString("config")
	cfg, err := LoadConfig(path)
	if err != nil {
		return Config{}, err
	}
	strFlags := map[string]*string{
		"database-driver": &cfg.DatabaseDriver,
		"database-url":    &cfg.DatabaseURL,
		"log-level":       &cfg.LogLevel,
		"log-format":      &cfg.LogFormat,
		"addr":            &cfg.Addr,
		"static-dir":      &cfg.StaticDir,
	}
	for name, dst := range strFlags {
		if fs.Lookup(name) != nil && fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	if fs.Changed("max-lists") {
		cfg.MaxLists, _ = fs.GetInt("max-lists")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app is the wired service graph shared by the server and the maintenance commands.
type app struct {
	cfg     Config
	log     *slog.Logger
	db      *sql.DB
	store   *Store
	bus     *EventBus
	metrics *Metrics
	matrix  *Matrix
}

func openApp(ctx context.Context, cfg Config, log *slog.Logger) (*app, error) {
	db, d, err := openDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	store := NewStore(db, d)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	bus := NewEventBus()
	metrics := NewMetrics()
	m := NewMatrix(store, log, WithMaxLists(cfg.MaxLists), WithEvents(bus), WithMetrics(metrics))
	return &app{cfg: cfg, log: log, db: db, store: store, bus: bus, metrics: metrics, matrix: m}, nil
}

func (a *app) Close() error { return a.db.Close() }

func newHandler(a *app) http.Handler {
	mux := http.NewServeMux()
	if a.cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(a.cfg.StaticDir)))
	}
	newAPI(a.matrix, a.bus, a.metrics, a.cfg, a.log).routes(mux)
	return withLogging(a.log, a.metrics, mux)
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
			a, err := openApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(a)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8080)")
	cmd.Flags().String("static-dir", "", "directory of client assets served at /")
	return cmd
}

func serve(a *app) error {
	srv := &http.Server{Addr: a.cfg.Addr, Handler: newHandler(a),
		ReadTimeout: 15 * time.Second, ReadHeaderTimeout: 10 * time.Second,
		// SSE streams stay open, so writes are not bounded here
		IdleTimeout: 120 * time.Second}
	// cancelled on shutdown so open event streams return
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }
	srv.RegisterOnShutdown(cancelBase)

	errc := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", a.cfg.Addr, "driver", a.cfg.DatabaseDriver, "max_lists", a.cfg.MaxLists)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) && err != nil {
			errc <- err
		}
		close(errc)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-sig:
	}
	a.log.Info("shutting down")
	ctxSh, cancelSh := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSh()
	if err := srv.Shutdown(ctxSh); err != nil {
		a.log.Error("shutdown", "err", err)
		return err
	}
	return nil
}
