package booking

import (
	"errors"
	"math"
	"time"
)

var (
	ErrInvalidRange    = errors.New("booking: end date before start date")
	ErrNoChange        = errors.New("booking: proposed dates equal current dates")
	ErrInvalidDuration = errors.New("booking: current duration unusable for rate derivation")
)

// DeltaAction tells the operator what payment action the adjustment needs.
type DeltaAction string

const (
	DeltaCharge DeltaAction = "charge"
	DeltaRefund DeltaAction = "refund"
	DeltaNone   DeltaAction = "none"
)

// LineChanges flags which line items differ between current and proposed
// totals for the side-by-side display.
type LineChanges struct {
	Subtotal   bool
	ServiceFee bool
	Deposit    bool
}

// AdjustQuote is the recomputed financial picture for a proposed date
// range, shown to the operator before committing.
type AdjustQuote struct {
	Current      Totals
	Proposed     Totals
	Changed      LineChanges
	DeltaCents   int64
	Action       DeltaAction
	NewStart     time.Time
	NewLastDay   time.Time
	NewEndStored time.Time
	DurationDays int
}

// QuoteAdjustment prorates the booking's charges onto a proposed inclusive
// date range. The per-day rate derives from the unrounded division of the
// current subtotal and service fee by the current inclusive duration;
// rounding happens once, on the recomputed line items. The damage deposit
// passes through flat. newEnd is the proposed last rental day (inclusive);
// the quote carries the end-exclusive value to submit to persistence.
func QuoteAdjustment(b Booking, newStart, newEnd time.Time) (AdjustQuote, error) {
	curDays := b.DurationDays()
	if curDays <= 0 {
		return AdjustQuote{}, ErrInvalidDuration
	}

	newStart = newStart.Truncate(24 * time.Hour)
	newEnd = newEnd.Truncate(24 * time.Hour)
	if newEnd.Before(newStart) {
		return AdjustQuote{}, ErrInvalidRange
	}
	if newStart.Equal(b.Start.Truncate(24*time.Hour)) && newEnd.Equal(b.LastDay().Truncate(24*time.Hour)) {
		return AdjustQuote{}, ErrNoChange
	}

	newDays := inclusiveDays(newStart, newEnd)

	proposed := Totals{
		SubtotalCents:   prorate(b.Totals.SubtotalCents, curDays, newDays),
		ServiceFeeCents: prorate(b.Totals.ServiceFeeCents, curDays, newDays),
		DepositCents:    b.Totals.DepositCents,
	}

	quote := AdjustQuote{
		Current:  b.Totals,
		Proposed: proposed,
		Changed: LineChanges{
			Subtotal:   proposed.SubtotalCents != b.Totals.SubtotalCents,
			ServiceFee: proposed.ServiceFeeCents != b.Totals.ServiceFeeCents,
			Deposit:    false,
		},
		DeltaCents:   proposed.Total() - b.Totals.Total(),
		NewStart:     newStart,
		NewLastDay:   newEnd,
		NewEndStored: newEnd.AddDate(0, 0, 1),
		DurationDays: newDays,
	}

	switch {
	case quote.DeltaCents > 0:
		quote.Action = DeltaCharge
	case quote.DeltaCents < 0:
		quote.Action = DeltaRefund
	default:
		quote.Action = DeltaNone
	}
	return quote, nil
}

// prorate applies daily_rate * newDays where daily_rate = amount/curDays,
// rounded to whole cents exactly once.
func prorate(amountCents int64, curDays, newDays int) int64 {
	return int64(math.Round(float64(amountCents) * float64(newDays) / float64(curDays)))
}
