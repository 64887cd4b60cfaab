package tool

import "time"

// Listing captures the subset of tool data exposed via the public API layer.
type Listing struct {
	ID             string
	OwnerID        string
	Title          string
	Category       string
	DailyRateCents int64
	DepositCents   int64
	Available      bool
	CreatedAt      time.Time
}
