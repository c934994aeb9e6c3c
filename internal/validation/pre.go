package validation

import (
	"context"
	"errors"
	"fmt"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// PreCompletion checks that a proposal and the swaps and bookings it touches
// are in a completable state. It reads committed state without locks, so a
// clean result is a strong hint, not a guarantee; the completion transaction
// re-checks the proposal under its row lock.
func (v *Validator) PreCompletion(ctx context.Context, proposal *domain.Proposal) (*Result, error) {
	res := &Result{}
	nowMs := v.now()

	if proposal.Status != domain.ProposalStatusPending {
		res.addError(CodeProposalNotPending, domain.EntityTypeProposal, proposal.ID,
			"proposal is %s, expected pending", proposal.Status)
	}
	if proposal.IsExpired(nowMs) {
		res.addError(CodeProposalExpired, domain.EntityTypeProposal, proposal.ID,
			"proposal expired at %d", *proposal.ExpiresAt)
	}
	if proposal.ProposerID == proposal.TargetUserID {
		res.addError(CodeSelfProposal, domain.EntityTypeProposal, proposal.ID,
			"proposer and target are the same user")
	}

	targetSwap, err := v.checkSwap(ctx, res, proposal.TargetSwapID, proposal.TargetUserID, nowMs)
	if err != nil {
		return nil, err
	}

	if proposal.IsCash() {
		if proposal.SourceSwapID != nil {
			res.addError(CodeReferentialMismatch, domain.EntityTypeProposal, proposal.ID,
				"cash proposal must not reference a source swap")
		}
		if proposal.CashAmount == nil || *proposal.CashAmount <= 0 || proposal.CashCurrency == nil {
			res.addError(CodeReferentialMismatch, domain.EntityTypeProposal, proposal.ID,
				"cash proposal requires a positive amount and a currency")
		}
		return res, nil
	}

	if proposal.SourceSwapID == nil {
		res.addError(CodeReferentialMismatch, domain.EntityTypeProposal, proposal.ID,
			"exchange proposal requires a source swap")
		return res, nil
	}

	sourceSwap, err := v.checkSwap(ctx, res, *proposal.SourceSwapID, proposal.ProposerID, nowMs)
	if err != nil {
		return nil, err
	}
	if sourceSwap != nil && targetSwap != nil && sourceSwap.BookingID == targetSwap.BookingID {
		res.addError(CodeReferentialMismatch, domain.EntityTypeProposal, proposal.ID,
			"source and target swaps reference the same booking %s", sourceSwap.BookingID)
	}

	return res, nil
}

// checkSwap validates one swap and its booking. The swap must belong to
// wantOwner, be active, and not carry completion markers; its booking must
// be confirmed, owned by the same user, and not already transferred.
func (v *Validator) checkSwap(ctx context.Context, res *Result, swapID, wantOwner string, nowMs int64) (*domain.Swap, error) {
	swap, err := v.swaps.GetByID(ctx, swapID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			res.addError(CodeMissingEntity, domain.EntityTypeSwap, swapID, "swap not found")
			return nil, nil
		}
		return nil, fmt.Errorf("load swap %s: %w", swapID, err)
	}

	if swap.OwnerID != wantOwner {
		res.addError(CodeOwnerMismatch, domain.EntityTypeSwap, swap.ID,
			"swap owned by %s, expected %s", swap.OwnerID, wantOwner)
	}
	if swap.Status != domain.SwapStatusActive {
		res.addError(CodeSwapNotActive, domain.EntityTypeSwap, swap.ID,
			"swap is %s, expected active", swap.Status)
	}
	if swap.CompletionTransactionID != nil {
		res.addError(CodeSwapCompleted, domain.EntityTypeSwap, swap.ID,
			"swap already completed by transaction %s", *swap.CompletionTransactionID)
	}
	if swap.BookingID == "" {
		res.addError(CodeReferentialMismatch, domain.EntityTypeSwap, swap.ID,
			"swap has no booking reference")
		return swap, nil
	}

	booking, err := v.bookings.GetByID(ctx, swap.BookingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			res.addError(CodeMissingEntity, domain.EntityTypeBooking, swap.BookingID, "booking not found")
			return swap, nil
		}
		return nil, fmt.Errorf("load booking %s: %w", swap.BookingID, err)
	}

	if booking.OwnerID != swap.OwnerID {
		res.addError(CodeOwnerMismatch, domain.EntityTypeBooking, booking.ID,
			"booking owned by %s but its swap is owned by %s", booking.OwnerID, swap.OwnerID)
	}
	if booking.Status != domain.BookingStatusConfirmed {
		res.addError(CodeBookingNotConfirmed, domain.EntityTypeBooking, booking.ID,
			"booking is %s, expected confirmed", booking.Status)
	}
	if booking.SwapTransactionID != nil {
		res.addError(CodeBookingSwapped, domain.EntityTypeBooking, booking.ID,
			"booking already transferred by transaction %s", *booking.SwapTransactionID)
	}
	if booking.CheckInDate <= nowMs {
		res.addWarning(CodeCheckInPassed, domain.EntityTypeBooking, booking.ID,
			"check-in date %d has passed", booking.CheckInDate)
	}

	return swap, nil
}
