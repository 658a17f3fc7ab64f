package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import for side effects
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/internal/application/hooks"
)

const demoDSN = "file:reqprof-demo?mode=memory&cache=shared"

func newServeCmd() *cobra.Command {
	var (
		addr string
		dsn  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a profiled demo application",
		Long: `Serve a small application whose every request is profiled. The profile viewer
is mounted under the configured relative path.

Endpoints:
  /db      runs a fast query
  /slow    runs a query slower than the default threshold
  /fetch   calls ?url= (or /db on this server) through the instrumented client
  /late    runs a query from the late shutdown phase`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, dsn)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&dsn, "db", demoDSN, "SQLite data source for the demo")
	return cmd
}

func serve(ctx context.Context, addr, dsn string) error {
	probe, err := newProbe(ctx)
	if err != nil {
		return err
	}
	logger := probe.Logger()
	defer func() {
		if err := probe.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Failed to shut down profiler")
		}
	}()

	db, err := probe.OpenDB("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open demo database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := seed(ctx, db); err != nil {
		return err
	}

	app := &demo{db: db, client: probe.NewClient(), logger: logger}
	server := &http.Server{
		Addr:              addr,
		Handler:           probe.Middleware(app.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("viewer", probe.Config().RelativePath).Msg("Demo server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down demo server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func seed(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (id INTEGER PRIMARY KEY, sku TEXT NOT NULL, seen INTEGER NOT NULL DEFAULT 0)`,
		`INSERT INTO orders (sku) SELECT 'SKU-' || value FROM (WITH RECURSIVE n(value) AS (SELECT 1 UNION ALL SELECT value + 1 FROM n WHERE value < 100) SELECT value FROM n) WHERE NOT EXISTS (SELECT 1 FROM orders)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to seed demo database: %w", err)
		}
	}
	return nil
}

type demo struct {
	db     *sql.DB
	client *http.Client
	logger zerolog.Logger
}

func (d *demo) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/db", d.handleDB)
	mux.HandleFunc("/slow", d.handleSlow)
	mux.HandleFunc("/fetch", d.handleFetch)
	mux.HandleFunc("/late", d.handleLate)
	return mux
}

func (d *demo) handleDB(w http.ResponseWriter, r *http.Request) {
	var n int
	if err := d.db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM orders").Scan(&n); err != nil {
		d.fail(w, err)
		return
	}
	fmt.Fprintf(w, "%d orders\n", n)
}

func (d *demo) handleSlow(w http.ResponseWriter, r *http.Request) {
	const q = `WITH RECURSIVE n(value) AS (SELECT 1 UNION ALL SELECT value + 1 FROM n WHERE value < 3000000) SELECT SUM(value) FROM n`
	var sum int64
	if err := d.db.QueryRowContext(r.Context(), q).Scan(&sum); err != nil {
		d.fail(w, err)
		return
	}
	fmt.Fprintf(w, "sum %d\n", sum)
}

func (d *demo) handleFetch(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		target = scheme + "://" + r.Host + "/db"
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := d.client.Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	n, _ := io.Copy(io.Discard, resp.Body)
	fmt.Fprintf(w, "%s %d (%d bytes)\n", target, resp.StatusCode, n)
}

// handleLate touches the orders after the response, from the host's late
// shutdown phase. The query still shows up in the request's slow-query log.
func (d *demo) handleLate(w http.ResponseWriter, r *http.Request) {
	registry := domain.HookRegistryFromContext(r.Context())
	if registry == nil {
		http.Error(w, "no late shutdown phase", http.StatusInternalServerError)
		return
	}
	registry.AddAction(hooks.DefaultPriority, func(ctx context.Context) error {
		_, err := d.db.ExecContext(ctx, "UPDATE orders SET seen = seen + 1")
		return err
	})
	fmt.Fprintln(w, "scheduled")
}

func (d *demo) fail(w http.ResponseWriter, err error) {
	d.logger.Error().Err(err).Msg("Demo request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}
