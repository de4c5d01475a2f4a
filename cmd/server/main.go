package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/damfello/bequ-15/app"
	"github.com/damfello/bequ-15/app/config"
	"github.com/damfello/bequ-15/logging"
)

var migrateOnStart bool

var rootCmd = &cobra.Command{
	Use:   "bequ",
	Short: "BeQu API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		log.Info().Msg("migrations applied")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply migrations before serving")
	}
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{Style: cfg.Logs.Style, Level: cfg.Logs.Level})
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*app.Store, error) {
	if !cfg.DB.Configured() {
		return nil, errors.New("database not configured: set DATABASE_URL or POSTGRES_URL")
	}
	store, err := app.OpenStore(ctx, cfg.DB.DataSourceName())
	if err != nil {
		return nil, err
	}
	log.Info().Msg("connected to Postgres")
	return store, nil
}

func runServer(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if migrateOnStart {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	for name, missing := range map[string][]string{
		"auth":     cfg.Auth.Missing(),
		"checkout": cfg.Stripe.CheckoutMissing(),
		"workflow": cfg.Workflow.Missing(),
	} {
		if len(missing) > 0 {
			log.Warn().Str("component", name).Strs("missing", missing).Msg("component not fully configured; its endpoints will return 500")
		}
	}

	srv, err := app.NewServer(cfg, store)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           app.NewRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("starting BeQu API")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
