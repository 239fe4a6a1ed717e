// Package main is the operator tool for the onboarding failure ledger. Entries are
// written when an onboarding saga could not fully roll back its identity provider
// side; an operator cleans the leftovers up by hand and marks the entry resolved.
//
//	ledger list                               unresolved entries as JSON
//	ledger show <id>                          one entry
//	ledger resolve <id> --by <name> [--note]  mark an entry reconciled
//
// The database is configured exactly like the server (CONFIG_PATH, ITM_* env).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/config"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/models"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/db/repositories"
	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/telemetry"
	"github.com/jmoiron/sqlx"
)

const listLimit = 500

// ledgerStore is satisfied by *repositories.FailureLedgerRepository
type ledgerStore interface {
	Get(ctx context.Context, id string) (*models.OnboardingFailure, error)
	ListUnresolved(ctx context.Context, limit int) ([]*models.OnboardingFailure, error)
	MarkResolved(ctx context.Context, id, resolvedBy, note string) (bool, error)
}

var errUsage = errors.New("usage: ledger <list | show <id> | resolve <id> --by <name> [--note <text>]>")

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, errUsage)
		os.Exit(2)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	telemetry.SetupLogger("text", cfg.Logging.Level, "ledger")

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	store := repositories.NewFailureLedgerRepository(sqlx.NewDb(database, "postgres"))
	if err := run(context.Background(), store, os.Args[1:], os.Stdout); err != nil {
		slog.Error("ledger command failed", "error", err)
		database.Close()
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, store ledgerStore, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch args[0] {
	case "list":
		entries, err := store.ListUnresolved(ctx, listLimit)
		if err != nil {
			return fmt.Errorf("failed to list ledger: %w", err)
		}
		if entries == nil {
			entries = []*models.OnboardingFailure{}
		}
		return enc.Encode(entries)

	case "show":
		if len(args) < 2 {
			return errUsage
		}
		entry, err := store.Get(ctx, args[1])
		if err != nil {
			return fmt.Errorf("failed to load entry: %w", err)
		}
		if entry == nil {
			return fmt.Errorf("ledger entry %s not found", args[1])
		}
		return enc.Encode(entry)

	case "resolve":
		if len(args) < 2 {
			return errUsage
		}
		id := args[1]

		fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		by := fs.String("by", "", "operator who reconciled the entry")
		note := fs.String("note", "", "what was cleaned up")
		if err := fs.Parse(args[2:]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if *by == "" {
			return fmt.Errorf("%w: --by is required", errUsage)
		}

		ok, err := store.MarkResolved(ctx, id, *by, *note)
		if err != nil {
			return fmt.Errorf("failed to resolve entry: %w", err)
		}
		if !ok {
			return fmt.Errorf("ledger entry %s not found or already resolved", id)
		}
		fmt.Fprintf(out, "resolved %s\n", id)
		return nil

	default:
		return errUsage
	}
}
