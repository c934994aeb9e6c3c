package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookswap/internal/domain"
	"bookswap/internal/faults"
	"bookswap/internal/ledger"
	ledgerstub "bookswap/internal/ledger/stub"
	"bookswap/internal/notify"
	paymentstub "bookswap/internal/payment/stub"
	"bookswap/internal/rollback"
	"bookswap/internal/storage/memory"
	"bookswap/internal/validation"
)

type capturePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *capturePublisher) PublishJSON(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *capturePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

type fixture struct {
	proposals  *memory.ProposalStore
	swaps      *memory.SwapStore
	bookings   *memory.BookingStore
	payments   *memory.PaymentStore
	audits     *memory.AuditStore
	sagaEvents *memory.SagaEventStore
	txm        *memory.TxManager
	corrector  *memory.Corrector
	ledger     *ledgerstub.Ledger
	gateway    *paymentstub.Gateway
	publisher  *capturePublisher
	orch       *Orchestrator
	nowMs      int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		proposals:  memory.NewProposalStore(),
		swaps:      memory.NewSwapStore(),
		bookings:   memory.NewBookingStore(),
		payments:   memory.NewPaymentStore(),
		audits:     memory.NewAuditStore(),
		sagaEvents: memory.NewSagaEventStore(),
		ledger:     ledgerstub.New(),
		gateway:    paymentstub.New(250),
		publisher:  &capturePublisher{},
		nowMs:      time.Now().UnixMilli(),
	}
	f.txm = memory.NewTxManager(f.proposals, f.swaps, f.bookings)
	f.corrector = memory.NewCorrector(f.proposals, f.swaps, f.bookings)

	rb := rollback.NewManager(rollback.Options{
		TxManager: f.txm,
		Payments:  f.gateway,
		Ledger:    f.ledger,
		Logger:    zerolog.Nop(),
	})

	f.orch = New(Options{
		Proposals:  f.proposals,
		Swaps:      f.swaps,
		Bookings:   f.bookings,
		Payments:   f.payments,
		Audits:     f.audits,
		SagaEvents: f.sagaEvents,
		TxManager:  f.txm,
		Corrector:  f.corrector,
		Validator:  validation.NewValidator(f.proposals, f.swaps, f.bookings),
		Ledger:     f.ledger,
		Gateway:    f.gateway,
		Rollback:   rb,
		Publisher:  f.publisher,
		Logger:     zerolog.Nop(),
	})
	return f
}

func (f *fixture) seedLeg(t *testing.T, swapID, bookingID, owner string) {
	t.Helper()
	ctx := context.Background()
	checkIn := f.nowMs + int64(30*24*time.Hour/time.Millisecond)
	require.NoError(t, f.bookings.Insert(ctx, &domain.Booking{
		ID: bookingID, OwnerID: owner, Status: domain.BookingStatusConfirmed,
		CheckInDate: checkIn, CreatedAt: f.nowMs,
	}))
	require.NoError(t, f.swaps.Insert(ctx, &domain.Swap{
		ID: swapID, OwnerID: owner, BookingID: bookingID,
		Status: domain.SwapStatusActive, CreatedAt: f.nowMs,
	}))
}

func (f *fixture) seedExchangeProposal(t *testing.T) string {
	t.Helper()
	f.seedLeg(t, "swap-src", "book-a", "alice")
	f.seedLeg(t, "swap-tgt", "book-b", "bob")

	src := "swap-src"
	require.NoError(t, f.proposals.Insert(context.Background(), &domain.Proposal{
		ID: "prop-1", SourceSwapID: &src, TargetSwapID: "swap-tgt",
		ProposerID: "alice", TargetUserID: "bob",
		Kind: domain.ProposalKindExchange, Status: domain.ProposalStatusPending,
		CreatedAt: f.nowMs,
	}))
	return "prop-1"
}

func (f *fixture) seedCashProposal(t *testing.T) string {
	t.Helper()
	f.seedLeg(t, "swap-tgt", "book-b", "bob")

	amount := int64(50000)
	currency := "THB"
	require.NoError(t, f.proposals.Insert(context.Background(), &domain.Proposal{
		ID: "prop-cash", TargetSwapID: "swap-tgt",
		ProposerID: "alice", TargetUserID: "bob",
		Kind: domain.ProposalKindCash, Status: domain.ProposalStatusPending,
		CashAmount: &amount, CashCurrency: &currency,
		CreatedAt: f.nowMs,
	}))
	return "prop-cash"
}

func TestAcceptProposal_Exchange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposalID := f.seedExchangeProposal(t)

	result, err := f.orch.AcceptProposal(ctx, proposalID, "bob")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.TransactionID)
	assert.NotEmpty(t, result.LedgerEventID)
	assert.Nil(t, result.Payment)
	assert.Zero(t, result.Corrected)

	// both swaps completed and cross-linked
	for swapID, sibling := range map[string]string{"swap-src": "swap-tgt", "swap-tgt": "swap-src"} {
		swap, err := f.swaps.GetByID(ctx, swapID)
		require.NoError(t, err)
		assert.Equal(t, domain.SwapStatusCompleted, swap.Status)
		require.NotNil(t, swap.CompletionTransactionID)
		assert.Equal(t, result.TransactionID, *swap.CompletionTransactionID)
		assert.Equal(t, []string{sibling}, swap.RelatedSwapCompletions)
	}

	// ownership crossed both ways
	bookA, err := f.bookings.GetByID(ctx, "book-a")
	require.NoError(t, err)
	assert.Equal(t, "bob", bookA.OwnerID)
	require.NotNil(t, bookA.OriginalOwnerID)
	assert.Equal(t, "alice", *bookA.OriginalOwnerID)

	bookB, err := f.bookings.GetByID(ctx, "book-b")
	require.NoError(t, err)
	assert.Equal(t, "alice", bookB.OwnerID)
	assert.Equal(t, domain.BookingStatusSwapped, bookB.Status)

	proposal, err := f.proposals.GetByID(ctx, proposalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusAccepted, proposal.Status)

	// ledger append with the full id set
	appends := f.ledger.Appends()
	require.Len(t, appends, 1)
	assert.Equal(t, ledger.EventCompletionRecorded, appends[0].EventType)
	assert.ElementsMatch(t, []string{"swap-src", "swap-tgt"}, appends[0].Payload.SwapIDs)

	// audit completed with the confirmed ledger event id
	audit, err := f.audits.GetByTransactionID(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuditStatusCompleted, audit.Status)
	require.NotNil(t, audit.LedgerTransactionID)
	assert.Equal(t, result.LedgerEventID, *audit.LedgerTransactionID)

	assert.Equal(t, []string{notify.TypeCompletionSucceeded}, f.publisher.published())
	assert.Empty(t, f.gateway.Charges())
}

func TestAcceptProposal_Cash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposalID := f.seedCashProposal(t)

	result, err := f.orch.AcceptProposal(ctx, proposalID, "bob")
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	assert.Equal(t, int64(50000), result.Payment.Amount)
	assert.Equal(t, int64(1250), result.Payment.PlatformFee)
	assert.Equal(t, int64(48750), result.Payment.NetAmount)
	assert.Equal(t, domain.PaymentStatusCaptured, result.Payment.Status)

	// booking moved to the proposer
	booking, err := f.bookings.GetByID(ctx, "book-b")
	require.NoError(t, err)
	assert.Equal(t, "alice", booking.OwnerID)
	assert.Equal(t, domain.BookingStatusSwapped, booking.Status)

	stored, err := f.payments.GetByID(ctx, result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Payment.GatewayRef, stored.GatewayRef)

	require.Len(t, f.gateway.Charges(), 1)
}

func TestAcceptProposal_NotAuthorized(t *testing.T) {
	f := newFixture(t)
	proposalID := f.seedExchangeProposal(t)

	_, err := f.orch.AcceptProposal(context.Background(), proposalID, "alice")
	require.Error(t, err)
	assert.Equal(t, faults.CodeNotAuthorized, faults.As(err).Code)
}

func TestAcceptProposal_NotPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposalID := f.seedExchangeProposal(t)

	_, err := f.orch.AcceptProposal(ctx, proposalID, "bob")
	require.NoError(t, err)

	_, err = f.orch.AcceptProposal(ctx, proposalID, "bob")
	require.Error(t, err)
	assert.Equal(t, faults.CodeProposalNotPending, faults.As(err).Code)
}

func TestAcceptProposal_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposalID := f.seedExchangeProposal(t)

	proposal, err := f.proposals.GetByID(ctx, proposalID)
	require.NoError(t, err)
	expired := f.nowMs - 1000
	proposal.ExpiresAt = &expired
	require.NoError(t, f.proposals.Insert(ctx, proposal))

	_, err = f.orch.AcceptProposal(ctx, proposalID, "bob")
	require.Error(t, err)
	assert.Equal(t, faults.CodeProposalExpired, faults.As(err).Code)

	// nothing moved
	swap, err := f.swaps.GetByID(ctx, "swap-tgt")
	require.NoError(t, err)
	assert.Equal(t, domain.SwapStatusActive, swap.Status)
}

func TestAcceptProposal_CommitFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposalID := f.seedExchangeProposal(t)
	f.txm.FailExecute = faults.Wrap(faults.CategoryDatabase, faults.CodeDatabaseTransactionFailed,
		"completion transaction failed", errors.New("serialization failure"))

	_, err := f.orch.AcceptProposal(ctx, proposalID, "bob")
	require.Error(t, err)
	assert.Equal(t, faults.CodeDatabaseTransactionFailed, faults.As(err).Code)

	proposal, err := f.proposals.GetByID(ctx, proposalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusPending, proposal.Status)

	// no side effects to compensate: no ledger write, no charge
	assert.Empty(t, f.ledger.Appends())
	assert.Empty(t, f.gateway.Charges())

	audits, err := f.audits.GetByProposalID(ctx, proposalID)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, domain.AuditStatusFailed, audits[0].Status)
}

func TestAcceptProposal_PaymentFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposalID := f.seedCashProposal(t)
	f.gateway.FailCharge = errors.New("card declined")

	_, err := f.orch.AcceptProposal(ctx, proposalID, "bob")
	require.Error(t, err)
	assert.Equal(t, faults.CodePaymentFailed, faults.As(err).Code)

	// relational state fully restored
	swap, err := f.swaps.GetByID(ctx, "swap-tgt")
	require.NoError(t, err)
	assert.Equal(t, domain.SwapStatusActive, swap.Status)
	assert.Nil(t, swap.CompletionTransactionID)

	booking, err := f.bookings.GetByID(ctx, "book-b")
	require.NoError(t, err)
	assert.Equal(t, "bob", booking.OwnerID)
	assert.Equal(t, domain.BookingStatusConfirmed, booking.Status)

	proposal, err := f.proposals.GetByID(ctx, proposalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusPending, proposal.Status)

	// the recorded event was superseded by a cancellation, never retracted
	appends := f.ledger.Appends()
	require.Len(t, appends, 2)
	assert.Equal(t, ledger.EventCompletionRecorded, appends[0].EventType)
	assert.Equal(t, ledger.EventCompletionCancelled, appends[1].EventType)

	audits, err := f.audits.GetByProposalID(ctx, proposalID)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, domain.AuditStatusRolledBack, audits[0].Status)
	require.NotNil(t, audits[0].ErrorDetails)

	assert.Equal(t, []string{notify.TypeRollbackNotice, notify.TypeCompletionFailed}, f.publisher.published())
}

func TestAcceptProposal_LedgerFailureIsNotRolledBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposalID := f.seedExchangeProposal(t)
	f.ledger.FailCount = 1

	result, err := f.orch.AcceptProposal(ctx, proposalID, "bob")
	require.NoError(t, err)
	assert.Empty(t, result.LedgerEventID)

	// the database commit stands
	swap, err := f.swaps.GetByID(ctx, "swap-tgt")
	require.NoError(t, err)
	assert.Equal(t, domain.SwapStatusCompleted, swap.Status)

	// the audit is completed but flagged for reconciliation
	audit, err := f.audits.GetByTransactionID(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuditStatusCompleted, audit.Status)
	assert.Nil(t, audit.LedgerTransactionID)

	missing, err := f.audits.ListMissingLedger(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, result.TransactionID, missing[0].TransactionID)
}

func TestVerifyPostState_CorrectsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedExchangeProposal(t)

	nowMs := time.Now().UnixMilli()
	data, err := f.orch.buildCompletionData(ctx, mustProposal(t, f, "prop-1"), "tx-1", "bob", nowMs)
	require.NoError(t, err)
	_, err = f.txm.ExecuteCompletion(ctx, data)
	require.NoError(t, err)

	// simulate a concurrent writer knocking one swap out of its terminal state
	swap, err := f.swaps.GetByID(ctx, "swap-src")
	require.NoError(t, err)
	swap.Status = domain.SwapStatusMatched
	require.NoError(t, f.swaps.Insert(ctx, swap))

	corrected, _, err := f.orch.verifyPostState(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 1, corrected)
	assert.Equal(t, 1, f.corrector.Writes)

	swap, err = f.swaps.GetByID(ctx, "swap-src")
	require.NoError(t, err)
	assert.Equal(t, domain.SwapStatusCompleted, swap.Status)
}

func mustProposal(t *testing.T, f *fixture, id string) *domain.Proposal {
	t.Helper()
	p, err := f.proposals.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestRejectProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposalID := f.seedExchangeProposal(t)

	require.NoError(t, f.orch.RejectProposal(ctx, proposalID, "bob"))

	proposal, err := f.proposals.GetByID(ctx, proposalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusRejected, proposal.Status)
	require.NotNil(t, proposal.RespondedBy)
	assert.Equal(t, "bob", *proposal.RespondedBy)

	appends := f.ledger.Appends()
	require.Len(t, appends, 1)
	assert.Equal(t, ledger.EventProposalRejected, appends[0].EventType)

	assert.Equal(t, []string{notify.TypeProposalRejected}, f.publisher.published())

	// second rejection is refused
	err = f.orch.RejectProposal(ctx, proposalID, "bob")
	require.Error(t, err)
	assert.Equal(t, faults.CodeProposalNotPending, faults.As(err).Code)
}

func TestRejectProposal_OnlyTargetMayReject(t *testing.T) {
	f := newFixture(t)
	proposalID := f.seedExchangeProposal(t)

	err := f.orch.RejectProposal(context.Background(), proposalID, "alice")
	require.Error(t, err)
	assert.Equal(t, faults.CodeNotAuthorized, faults.As(err).Code)
}

func TestExpirePendingProposals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposalID := f.seedExchangeProposal(t)

	proposal, err := f.proposals.GetByID(ctx, proposalID)
	require.NoError(t, err)
	expired := f.nowMs - 1000
	proposal.ExpiresAt = &expired
	require.NoError(t, f.proposals.Insert(ctx, proposal))

	n, err := f.orch.ExpirePendingProposals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	proposal, err = f.proposals.GetByID(ctx, proposalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusExpired, proposal.Status)
}

func TestAcceptProposal_DeterministicTransactionID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposalID := f.seedExchangeProposal(t)

	fixed := time.Now().UnixMilli()
	f.orch.now = func() int64 { return fixed }

	result, err := f.orch.AcceptProposal(ctx, proposalID, "bob")
	require.NoError(t, err)

	// same decision, same id: a retry after a crash would hit the same
	// ledger idempotency key
	other := newFixture(t)
	other.seedExchangeProposal(t)
	other.orch.now = func() int64 { return fixed }
	otherResult, err := other.orch.AcceptProposal(ctx, "prop-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, result.TransactionID, otherResult.TransactionID)
}

func TestExpectedCompletion_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposalID := f.seedExchangeProposal(t)

	result, err := f.orch.AcceptProposal(ctx, proposalID, "bob")
	require.NoError(t, err)

	proposal, err := f.proposals.GetByID(ctx, proposalID)
	require.NoError(t, err)

	// the reconstructed expectation matches the persisted outcome
	data, err := ExpectedCompletion(ctx, f.swaps, f.bookings, proposal, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, result.TransactionID, data.TransactionID)
	require.Len(t, data.SwapUpdates, 2)
	require.Len(t, data.BookingUpdates, 2)

	res, err := validation.NewValidator(f.proposals, f.swaps, f.bookings).PostCompletion(ctx, data)
	require.NoError(t, err)
	assert.True(t, res.Valid())
}

func TestExpectedCompletion_RequiresAcceptance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proposalID := f.seedExchangeProposal(t)

	proposal, err := f.proposals.GetByID(ctx, proposalID)
	require.NoError(t, err)

	_, err = ExpectedCompletion(ctx, f.swaps, f.bookings, proposal, "tx-test-1")
	require.Error(t, err)
	assert.Equal(t, faults.CategoryValidation, faults.As(err).Category)
}
