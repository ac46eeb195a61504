package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aurantiaco-sucus/rdb-exp3/config"
	"github.com/aurantiaco-sucus/rdb-exp3/library"
	"github.com/go-playground/validator/v10"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// catalogEntry is one book of the import file. Copies instances are created
// with the given status.
type catalogEntry struct {
	Title  string `json:"title" validate:"required"`
	Author string `json:"author" validate:"required"`
	Info   string `json:"info"`
	Copies int    `json:"copies" validate:"gte=0,lte=1000"`
	Status int64  `json:"status"`
}

type imported struct {
	BID    int64
	Title  string
	Author string
	IIDs   []int64
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newImportCmd(&cfg).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newImportCmd(cfg *config.Config) *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:          "import_books <catalog.json>",
		Short:        "Import books and their copies from a JSON catalog",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), *cfg, args[0], fresh, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "sqlite3, sqlite, pgx or postgres")
	cmd.Flags().StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "database file or connection string")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "start from an empty database")
	return cmd
}

func run(ctx context.Context, cfg config.Config, path string, fresh bool, out io.Writer) error {
	logger := cfg.NewLogger(os.Stderr, false)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	entries, err := readCatalog(f)
	if err != nil {
		return err
	}

	if fresh && cfg.IsSQLite() {
		fmt.Fprintln(out, "Cleaning up existing database files...")
		if err := library.RemoveSQLiteFiles(cfg.DBDSN); err != nil {
			return err
		}
	}

	db, err := library.Open(ctx, cfg.DBDriver, cfg.DBDSN, library.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if fresh && !cfg.IsSQLite() {
		if err := db.DropSchema(ctx); err != nil {
			db.Close()
			return err
		}
	}
	if err := db.Provision(ctx); err != nil {
		db.Close()
		return fmt.Errorf("provision: %w", err)
	}

	store, err := library.NewSerializer(db)
	if err != nil {
		db.Close()
		return err
	}
	mgr := library.NewLibraryManager(store, library.WithManagerLogger(logger))
	defer mgr.Close()

	fmt.Fprintf(out, "Importing %d books from %s...\n", len(entries), path)
	done, failures := importCatalog(ctx, mgr, entries)
	for _, err := range failures {
		fmt.Fprintf(out, "ERROR - %v\n", err)
	}

	fmt.Fprintf(out, "\nImport complete!\n")
	fmt.Fprintf(out, "Successfully imported: %d books\n", len(done))
	fmt.Fprintf(out, "Errors: %d\n", len(failures))
	if len(done) > 0 {
		renderSummary(out, done)
	}
	if len(failures) > 0 {
		return errors.Join(failures...)
	}
	return nil
}

// readCatalog decodes and validates a JSON array of catalog entries.
func readCatalog(r io.Reader) ([]catalogEntry, error) {
	var entries []catalogEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	v := validator.New()
	for i := range entries {
		if err := v.Struct(entries[i]); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i+1, err)
		}
	}
	return entries, nil
}

// importCatalog adds every entry and its copies. A failed entry does not
// stop the import.
func importCatalog(ctx context.Context, mgr *library.LibraryManager, entries []catalogEntry) ([]imported, []error) {
	var (
		done     []imported
		failures []error
	)
	for _, e := range entries {
		bid, err := mgr.AddBook(ctx, e.Title, e.Author, e.Info)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", e.Title, err))
			continue
		}
		item := imported{BID: bid, Title: e.Title, Author: e.Author}
		for range e.Copies {
			iid, err := mgr.AddInstance(ctx, bid, e.Status)
			if err != nil {
				failures = append(failures, fmt.Errorf("%s copy: %w", e.Title, err))
				break
			}
			item.IIDs = append(item.IIDs, iid)
		}
		done = append(done, item)
	}
	return done, failures
}

func renderSummary(out io.Writer, done []imported) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"BID", "Title", "Author", "Copies"})
	for _, item := range done {
		t.AppendRow(table.Row{item.BID, item.Title, item.Author, len(item.IIDs)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 50, WidthMaxEnforcer: text.Trim},
		{Number: 3, WidthMax: 30, WidthMaxEnforcer: text.Trim},
	})
	t.Render()
}
