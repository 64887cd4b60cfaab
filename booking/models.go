package booking

import "time"

// Status is the booking lifecycle value touched by operator overrides.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Totals is the derived monetary breakdown in integer cents.
type Totals struct {
	SubtotalCents    int64
	ServiceFeeCents  int64
	DepositCents     int64
	PlatformFeeCents int64
	OwnerPayoutCents int64
}

// Total is the renter-facing sum: subtotal + service fee + deposit.
func (t Totals) Total() int64 {
	return t.SubtotalCents + t.ServiceFeeCents + t.DepositCents
}

// Booking mirrors the bookings table columns the dispute subsystem reads.
// EndStored follows the end-exclusive convention: last rental day + 1.
type Booking struct {
	ID                     string
	RenterID               string
	OwnerID                string
	Status                 Status
	Start                  time.Time
	EndStored              time.Time
	Totals                 Totals
	DisputeWindowExpiresAt *time.Time
	DepositHoldID          string
	ChargePaymentIntentID  string
	DepositLocked          bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// LastDay converts the stored end back to the inclusive last rental day.
func (b Booking) LastDay() time.Time {
	return b.EndStored.AddDate(0, 0, -1)
}

// DurationDays is the inclusive rental length in days.
func (b Booking) DurationDays() int {
	return inclusiveDays(b.Start, b.LastDay())
}

func inclusiveDays(start, end time.Time) int {
	s := start.Truncate(24 * time.Hour)
	e := end.Truncate(24 * time.Hour)
	if e.Before(s) {
		return 0
	}
	return int(e.Sub(s).Hours()/24) + 1
}
