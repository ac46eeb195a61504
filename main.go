package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aurantiaco-sucus/rdb-exp3/client"
	"github.com/aurantiaco-sucus/rdb-exp3/config"
	"github.com/aurantiaco-sucus/rdb-exp3/library"
	"github.com/aurantiaco-sucus/rdb-exp3/server"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&cfg).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "lms",
		Short:        "Library management service",
		Long:         "Runs the server, the line client or one-time configuration, as chosen by lms_launch_type.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch cfg.LaunchType {
			case config.LaunchServer:
				return runServer(cmd.Context(), *cfg)
			case config.LaunchConfig:
				return runConfig(cmd.Context(), *cfg, false)
			default:
				return runClient(cmd.Context(), *cfg)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.Host, "host", cfg.Host, "server host the client dials")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "server port")
	flags.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "sqlite3, sqlite, pgx or postgres")
	flags.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "database file or connection string")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), *cfg)
		},
	}
	serverCmd.Flags().StringVar(&cfg.Bind, "bind", cfg.Bind, "listen address")

	clientCmd := &cobra.Command{
		Use:   "client",
		Short: "Run the line client against a server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClient(cmd.Context(), *cfg)
		},
	}

	var overwrite bool
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Provision the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfig(cmd.Context(), *cfg, overwrite)
		},
	}
	configCmd.Flags().BoolVar(&overwrite, "overwrite", false, "drop the existing database first")

	hashCmd := &cobra.Command{
		Use:   "hash-admin-key",
		Short: "Print a bcrypt hash for lms_admin_key_hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHashAdminKey(cmd.OutOrStdout())
		},
	}

	root.AddCommand(serverCmd, clientCmd, configCmd, hashCmd)
	return root
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger := cfg.NewLogger(os.Stderr, true)
	slog.SetDefault(logger)

	db, err := library.Open(ctx, cfg.DBDriver, cfg.DBDSN, library.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.CheckSchema(ctx); err != nil {
		db.Close()
		return fmt.Errorf("%w; run `lms config` first", err)
	}

	store, err := library.NewSerializer(db)
	if err != nil {
		db.Close()
		return err
	}
	mgr := library.NewLibraryManager(store, library.WithManagerLogger(logger))
	defer mgr.Close()

	srv := server.New(mgr,
		server.WithLogger(logger),
		server.WithAdminKeyHash(cfg.AdminKeyHash),
	)
	return srv.Run(ctx, cfg.ListenAddr())
}

func runClient(ctx context.Context, cfg config.Config) error {
	c := client.New(cfg.Host, cfg.PortString(), client.WithAdminKey(cfg.AdminKey))

	var src client.LineSource
	if term.IsTerminal(int(os.Stdin.Fd())) {
		rl, err := client.NewReadlineSource("")
		if err != nil {
			return fmt.Errorf("init terminal: %w", err)
		}
		defer rl.Close()
		src = rl
	} else {
		src = client.NewScannerSource(os.Stdin, nil)
	}
	return client.NewSession(c, src, os.Stdout).Run(ctx)
}

func runConfig(ctx context.Context, cfg config.Config, overwrite bool) error {
	logger := cfg.NewLogger(os.Stderr, false)
	logger.Info("running first time configuration", "driver", cfg.DBDriver)

	if overwrite && cfg.IsSQLite() {
		logger.Warn("removing existing database", "path", cfg.DBDSN)
		if err := library.RemoveSQLiteFiles(cfg.DBDSN); err != nil {
			return err
		}
	}

	db, err := library.Open(ctx, cfg.DBDriver, cfg.DBDSN, library.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if overwrite && !cfg.IsSQLite() {
		logger.Warn("dropping existing tables")
		if err := db.DropSchema(ctx); err != nil {
			return err
		}
	}

	if err := db.Provision(ctx); err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	logger.Info("database configured", "schema_version", version)
	return nil
}

// readPassword reads a secret from the terminal without echo.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func runHashAdminKey(out io.Writer) error {
	key, err := readPassword("Admin key: ")
	if err != nil {
		return fmt.Errorf("read admin key: %w", err)
	}
	if key == "" {
		return errors.New("admin key is empty")
	}
	confirm, err := readPassword("Repeat admin key: ")
	if err != nil {
		return fmt.Errorf("read admin key: %w", err)
	}
	if key != confirm {
		return errors.New("admin keys do not match")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin key: %w", err)
	}
	fmt.Fprintln(out, string(hash))
	return nil
}
