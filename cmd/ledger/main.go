package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/adapter/repo"
	"github.com/tiagomennab/ensaio-fotos-sub002/internal/infra"
)

func main() {
	_ = godotenv.Load()

	var (
		ownerFlag string
		fixFlag   bool
	)
	flag.StringVar(&ownerFlag, "owner", "", "user ID to check (default: every user)")
	flag.BoolVar(&fixFlag, "fix", false, "rewrite cached credits_used from the transaction log")
	flag.Parse()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "ledger").Logger()
	store := repo.NewStore(infra.NewSQLRunner(pool, logger))

	drifts, err := store.Credits().Replay(ctx, strings.TrimSpace(ownerFlag))
	if err != nil {
		exitWithError(fmt.Errorf("replay ledger: %w", err))
	}
	if len(drifts) == 0 {
		fmt.Println("ledger consistent: cached balances match the transaction log")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OWNER\tCACHED\tREPLAYED\tDELTA")
	for _, d := range drifts {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%+d\n", d.OwnerID, d.Cached, d.Replayed, d.Replayed-d.Cached)
	}
	_ = tw.Flush()

	if !fixFlag {
		fmt.Printf("%d drifted balance(s); rerun with -fix to rewrite them\n", len(drifts))
		os.Exit(2)
	}
	for _, d := range drifts {
		if err := store.Credits().RewriteCached(ctx, d.OwnerID, d.Replayed); err != nil {
			exitWithError(fmt.Errorf("rewrite %s: %w", d.OwnerID, err))
		}
		logger.Info().Str("owner_id", d.OwnerID).Int("from", d.Cached).Int("to", d.Replayed).Msg("cached balance rewritten")
	}
	fmt.Printf("%d balance(s) rewritten\n", len(drifts))
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
