package postgres

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"bookswap/internal/domain"
)

// setupTestDB creates a PostgreSQL container for testing and applies migrations.
// Returns a cleanup function that must be called after tests complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	// Run migrations
	runTestMigrations(t, ctx, pool)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// runTestMigrations applies all SQL migrations from
// internal/storage/migrations/postgres/. The files are read from disk rather
// than through the migrations package, which would import this one back.
func runTestMigrations(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	projectRoot := findProjectRoot(t)
	migrationsDir := filepath.Join(projectRoot, "internal", "storage", "migrations", "postgres")

	entries, err := os.ReadDir(migrationsDir)
	require.NoError(t, err, "failed to read migrations directory")

	// Sort files by name (001_, 002_, etc.)
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".sql" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		filePath := filepath.Join(migrationsDir, file)
		sql, err := os.ReadFile(filePath)
		require.NoError(t, err, "failed to read migration file: %s", file)

		_, err = pool.Exec(ctx, string(sql))
		require.NoError(t, err, "failed to execute migration: %s", file)

		t.Logf("Applied migration: %s", file)
	}
}

// findProjectRoot walks up from current directory to find go.mod.
func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err, "failed to get working directory")

	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// ptr is a helper to create pointers to values.
func ptr[T any](v T) *T {
	return &v
}

const testCheckIn = int64(1700000000000)

// seedLeg inserts one booking and its active swap.
func seedLeg(t *testing.T, ctx context.Context, pool *Pool, swapID, bookingID, ownerID string) {
	t.Helper()

	err := NewBookingStore(pool).Insert(ctx, &domain.Booking{
		ID:          bookingID,
		OwnerID:     ownerID,
		Status:      domain.BookingStatusConfirmed,
		CheckInDate: testCheckIn,
		CreatedAt:   1699990000000,
	})
	require.NoError(t, err)

	err = NewSwapStore(pool).Insert(ctx, &domain.Swap{
		ID:        swapID,
		OwnerID:   ownerID,
		BookingID: bookingID,
		Status:    domain.SwapStatusActive,
		CreatedAt: 1699990000000,
	})
	require.NoError(t, err)
}

// seedExchangeProposal inserts two legs and a pending exchange proposal
// between their owners. Returns the proposal id.
func seedExchangeProposal(t *testing.T, ctx context.Context, pool *Pool) string {
	t.Helper()

	seedLeg(t, ctx, pool, "swap-src", "book-a", "alice")
	seedLeg(t, ctx, pool, "swap-tgt", "book-b", "bob")

	err := NewProposalStore(pool).Insert(ctx, &domain.Proposal{
		ID:           "prop-1",
		SourceSwapID: ptr("swap-src"),
		TargetSwapID: "swap-tgt",
		ProposerID:   "alice",
		TargetUserID: "bob",
		Kind:         domain.ProposalKindExchange,
		Status:       domain.ProposalStatusPending,
		CreatedAt:    1699990000000,
	})
	require.NoError(t, err)

	return "prop-1"
}

// exchangeCompletionData builds the 2+2 completion for the seeded exchange.
func exchangeCompletionData(proposalID string, nowMs int64) *domain.CompletionData {
	return &domain.CompletionData{
		ProposalID:    proposalID,
		TransactionID: "tx-test-1",
		RespondedBy:   "bob",
		RespondedAt:   nowMs,
		SwapUpdates: []domain.SwapUpdate{
			{
				SwapID:                 "swap-src",
				Status:                 domain.SwapStatusCompleted,
				CompletedAt:            nowMs,
				TransactionID:          "tx-test-1",
				RelatedSwapCompletions: []string{"swap-tgt"},
			},
			{
				SwapID:                 "swap-tgt",
				Status:                 domain.SwapStatusCompleted,
				CompletedAt:            nowMs,
				TransactionID:          "tx-test-1",
				RelatedSwapCompletions: []string{"swap-src"},
			},
		},
		BookingUpdates: []domain.BookingUpdate{
			{
				BookingID:           "book-a",
				Status:              domain.BookingStatusSwapped,
				NewOwnerID:          "bob",
				SwappedAt:           nowMs,
				TransactionID:       "tx-test-1",
				RelatedBookingSwaps: []string{"book-b"},
			},
			{
				BookingID:           "book-b",
				Status:              domain.BookingStatusSwapped,
				NewOwnerID:          "alice",
				SwappedAt:           nowMs,
				TransactionID:       "tx-test-1",
				RelatedBookingSwaps: []string{"book-a"},
			},
		},
	}
}
