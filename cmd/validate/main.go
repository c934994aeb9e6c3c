// Package main checks a proposal's state out of band. It runs either the
// pre-completion validation the saga runs before committing, or the
// post-completion validation with drift correction for an already accepted
// proposal. Exits non-zero when the checked state is invalid.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bookswap/internal/config"
	"bookswap/internal/domain"
	"bookswap/internal/logging"
	"bookswap/internal/saga"
	"bookswap/internal/storage/migrations"
	pgstore "bookswap/internal/storage/postgres"
	"bookswap/internal/validation"
)

func main() {
	proposalID := flag.String("proposal-id", "", "proposal to validate")
	post := flag.Bool("post", false, "re-run post-completion validation and drift correction")
	probeID := flag.String("probe", "", "report which entity table holds this id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load configuration:", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, true)

	if *proposalID == "" && *probeID == "" {
		fmt.Fprintln(os.Stderr, "one of -proposal-id or -probe is required")
		os.Exit(2)
	}

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
	swaps := pgstore.NewSwapStore(pool)
	bookings := pgstore.NewBookingStore(pool)
	validator := validation.NewValidator(proposals, swaps, bookings)

	if *probeID != "" {
		entityType, err := validator.ProbeEntityType(ctx, *probeID)
		if err != nil {
			logger.Fatal().Err(err).Str("id", *probeID).Msg("probe failed")
		}
		fmt.Printf("%s\t%s\n", *probeID, entityType)
		return
	}

	proposal, err := proposals.GetByID(ctx, *proposalID)
	if err != nil {
		logger.Fatal().Err(err).Str("proposal_id", *proposalID).Msg("load proposal")
	}

	if *post {
		validatePost(ctx, pool, validator, proposal)
		return
	}

	res, err := validator.PreCompletion(ctx, proposal)
	if err != nil {
		logger.Fatal().Err(err).Msg("validation failed to run")
	}

	printIssues(res)
	if !res.Valid() {
		fmt.Printf("proposal %s cannot complete: %d error(s)\n", *proposalID, len(res.Errors()))
		os.Exit(1)
	}
	fmt.Printf("proposal %s is completable (%d warning(s))\n", *proposalID, len(res.Warnings()))
}

// validatePost re-checks the persisted outcome of a finished completion and
// applies one round of drift correction when it does not match.
func validatePost(ctx context.Context, pool *pgstore.Pool, validator *validation.Validator, proposal *domain.Proposal) {
	audits, err := pgstore.NewAuditStore(pool).GetByProposalID(ctx, proposal.ID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load audits:", err)
		os.Exit(2)
	}
	if len(audits) == 0 {
		fmt.Fprintf(os.Stderr, "proposal %s has no completion audit\n", proposal.ID)
		os.Exit(2)
	}
	// newest audit holds the run that reached the database
	audit := audits[0]

	swaps := pgstore.NewSwapStore(pool)
	bookings := pgstore.NewBookingStore(pool)
	data, err := saga.ExpectedCompletion(ctx, swaps, bookings, proposal, audit.TransactionID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reconstruct expected state:", err)
		os.Exit(2)
	}

	res, err := validator.PostCompletion(ctx, data)
	if err != nil {
		fmt.Fprintln(os.Stderr, "validation failed to run:", err)
		os.Exit(2)
	}

	if !res.Valid() {
		corrections := validator.Corrections(res, data)
		if len(corrections) > 0 {
			if err := pgstore.NewCorrector(pool).ApplyStatusCorrections(ctx, corrections); err != nil {
				fmt.Fprintln(os.Stderr, "apply corrections:", err)
				os.Exit(2)
			}
			fmt.Printf("applied %d correction(s)\n", len(corrections))
			res, err = validator.PostCompletion(ctx, data)
			if err != nil {
				fmt.Fprintln(os.Stderr, "re-validation failed to run:", err)
				os.Exit(2)
			}
		}
	}

	printIssues(res)
	if !res.Valid() {
		fmt.Printf("proposal %s post-completion state is inconsistent: %d error(s)\n",
			proposal.ID, len(res.Errors()))
		os.Exit(1)
	}
	fmt.Printf("proposal %s post-completion state is consistent (%d warning(s))\n",
		proposal.ID, len(res.Warnings()))
}

func printIssues(res *validation.Result) {
	for _, issue := range res.Issues {
		fmt.Printf("%s\t%s\t%s/%s\t%s\n", issue.Severity, issue.Code, issue.EntityType, issue.EntityID, issue.Message)
	}
}
