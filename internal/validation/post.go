package validation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"bookswap/internal/domain"
	"bookswap/internal/storage"
)

// PostCompletion re-reads the entities a completion claims to have written
// and compares them against the intended target state. Status and ownership
// drift are errors; timestamp skew within the tolerances and missing sibling
// references are warnings. A wrong entity count is always a hard error.
func (v *Validator) PostCompletion(ctx context.Context, data *domain.CompletionData) (*Result, error) {
	res := &Result{}

	if !data.ShapeValid() {
		res.addError(CodeShapeMismatch, domain.EntityTypeProposal, data.ProposalID,
			"illegal completion shape: %d swaps, %d bookings", len(data.SwapUpdates), len(data.BookingUpdates))
		return res, nil
	}

	var stamps []int64

	for _, upd := range data.SwapUpdates {
		swap, err := v.swaps.GetByID(ctx, upd.SwapID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				res.addError(CodeMissingEntity, domain.EntityTypeSwap, upd.SwapID, "swap not found")
				continue
			}
			return nil, fmt.Errorf("load swap %s: %w", upd.SwapID, err)
		}

		if swap.Status != upd.Status {
			res.addError(CodeStatusDrift, domain.EntityTypeSwap, swap.ID,
				"swap is %s, expected %s", swap.Status, upd.Status)
		}
		if swap.CompletionTransactionID == nil || *swap.CompletionTransactionID != data.TransactionID {
			res.addError(CodeTransactionIDDrift, domain.EntityTypeSwap, swap.ID,
				"swap transaction id does not match %s", data.TransactionID)
		}
		if swap.CompletedAt == nil {
			res.addWarning(CodeTimestampDrift, domain.EntityTypeSwap, swap.ID,
				"swap has no completion timestamp")
		} else {
			stamps = append(stamps, *swap.CompletedAt)
			if delta := absDelta(*swap.CompletedAt, upd.CompletedAt); delta > EntityTimestampTolerance.Milliseconds() {
				res.addWarning(CodeTimestampDrift, domain.EntityTypeSwap, swap.ID,
					"completion timestamp off by %dms", delta)
			}
		}
		for _, sibling := range upd.RelatedSwapCompletions {
			if !slices.Contains(swap.RelatedSwapCompletions, sibling) {
				res.addWarning(CodeMissingSiblingRef, domain.EntityTypeSwap, swap.ID,
					"missing reference to sibling swap %s", sibling)
			}
		}
	}

	for _, upd := range data.BookingUpdates {
		booking, err := v.bookings.GetByID(ctx, upd.BookingID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				res.addError(CodeMissingEntity, domain.EntityTypeBooking, upd.BookingID, "booking not found")
				continue
			}
			return nil, fmt.Errorf("load booking %s: %w", upd.BookingID, err)
		}

		if booking.Status != upd.Status {
			res.addError(CodeStatusDrift, domain.EntityTypeBooking, booking.ID,
				"booking is %s, expected %s", booking.Status, upd.Status)
		}
		if booking.OwnerID != upd.NewOwnerID {
			res.addError(CodeOwnerTransferMissing, domain.EntityTypeBooking, booking.ID,
				"booking owned by %s, expected transfer to %s", booking.OwnerID, upd.NewOwnerID)
		}
		if booking.SwapTransactionID == nil || *booking.SwapTransactionID != data.TransactionID {
			res.addError(CodeTransactionIDDrift, domain.EntityTypeBooking, booking.ID,
				"booking transaction id does not match %s", data.TransactionID)
		}
		if booking.SwappedAt == nil {
			res.addWarning(CodeTimestampDrift, domain.EntityTypeBooking, booking.ID,
				"booking has no transfer timestamp")
		} else {
			stamps = append(stamps, *booking.SwappedAt)
			if delta := absDelta(*booking.SwappedAt, upd.SwappedAt); delta > EntityTimestampTolerance.Milliseconds() {
				res.addWarning(CodeTimestampDrift, domain.EntityTypeBooking, booking.ID,
					"transfer timestamp off by %dms", delta)
			}
		}
		for _, sibling := range upd.RelatedBookingSwaps {
			if !slices.Contains(booking.RelatedBookingSwaps, sibling) {
				res.addWarning(CodeMissingSiblingRef, domain.EntityTypeBooking, booking.ID,
					"missing reference to sibling booking %s", sibling)
			}
		}
	}

	proposal, err := v.proposals.GetByID(ctx, data.ProposalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			res.addError(CodeMissingEntity, domain.EntityTypeProposal, data.ProposalID, "proposal not found")
			return res, nil
		}
		return nil, fmt.Errorf("load proposal %s: %w", data.ProposalID, err)
	}

	if proposal.Status != domain.ProposalStatusAccepted {
		res.addError(CodeStatusDrift, domain.EntityTypeProposal, proposal.ID,
			"proposal is %s, expected accepted", proposal.Status)
	}
	if proposal.RespondedBy == nil || *proposal.RespondedBy != data.RespondedBy {
		res.addWarning(CodeTransactionIDDrift, domain.EntityTypeProposal, proposal.ID,
			"responder does not match %s", data.RespondedBy)
	}
	if proposal.RespondedAt != nil {
		stamps = append(stamps, *proposal.RespondedAt)
	}

	if len(stamps) > 1 {
		lo := slices.Min(stamps)
		hi := slices.Max(stamps)
		if spread := hi - lo; spread > CrossEntityWindow.Milliseconds() {
			res.addWarning(CodeTimestampDrift, domain.EntityTypeProposal, proposal.ID,
				"completion timestamps spread across %dms", spread)
		}
	}

	return res, nil
}

// Corrections derives status corrections from a post-completion result.
// Only status and ownership drift is correctable; every correction pushes
// the expected terminal status from the completion data, never a value
// inferred from the drifted row.
func (v *Validator) Corrections(res *Result, data *domain.CompletionData) []domain.StatusCorrection {
	nowMs := v.now()

	expected := make(map[string]string, len(data.SwapUpdates)+len(data.BookingUpdates)+1)
	for _, upd := range data.SwapUpdates {
		expected[upd.SwapID] = upd.Status
	}
	for _, upd := range data.BookingUpdates {
		expected[upd.BookingID] = upd.Status
	}
	expected[data.ProposalID] = domain.ProposalStatusAccepted

	var out []domain.StatusCorrection
	seen := make(map[string]bool)
	for _, is := range res.Issues {
		if is.Severity != SeverityError {
			continue
		}
		switch is.Code {
		case CodeStatusDrift, CodeTransactionIDDrift, CodeOwnerTransferMissing:
		default:
			continue
		}
		status, ok := expected[is.EntityID]
		if !ok || seen[is.EntityID] {
			continue
		}
		seen[is.EntityID] = true
		out = append(out, domain.StatusCorrection{
			EntityID:       is.EntityID,
			EntityType:     is.EntityType,
			ExpectedStatus: status,
			Timestamp:      nowMs,
			TransactionID:  data.TransactionID,
		})
	}
	return out
}

func absDelta(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
