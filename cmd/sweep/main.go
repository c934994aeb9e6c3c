// Package main runs the maintenance sweeps once and exits:
// - expires pending proposals whose expiry has passed
// - lists completed audits still missing their ledger event, for
//   reconciliation
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bookswap/internal/config"
	"bookswap/internal/logging"
	"bookswap/internal/storage/migrations"
	pgstore "bookswap/internal/storage/postgres"
)

func main() {
	missingLimit := flag.Int("missing-ledger-limit", 50, "max audits missing a ledger event to list")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load configuration:", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, true)

	ctx := context.Background()
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	proposals := pgstore.NewProposalStore(pool)
	expired, err := proposals.ExpirePending(ctx, time.Now().UnixMilli())
	if err != nil {
		logger.Fatal().Err(err).Msg("expire pending proposals")
	}
	logger.Info().Int64("expired", expired).Msg("expiry sweep done")

	audits := pgstore.NewAuditStore(pool)
	missing, err := audits.ListMissingLedger(ctx, *missingLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("list audits missing ledger events")
	}
	for _, a := range missing {
		fmt.Printf("%s\t%s\t%s\n", a.ID, a.ProposalID, a.TransactionID)
	}
	logger.Info().Int("missing_ledger", len(missing)).Msg("reconciliation sweep done")
}
