package dispute

import (
	"strings"
	"time"

	"rentflow/evidence"
)

// Status represents the lifecycle stage of a dispute record.
type Status string

const (
	StatusIntakeMissingEvidence Status = "intake_missing_evidence"
	StatusAwaitingRebuttal      Status = "awaiting_rebuttal"
	StatusUnderReview           Status = "under_review"
	StatusResolvedRenter        Status = "resolved_renter"
	StatusResolvedOwner         Status = "resolved_owner"
	StatusResolvedPartial       Status = "resolved_partial"
	StatusClosedByOpener        Status = "closed_by_opener"
	StatusClosedAuto            Status = "closed_auto"
)

// WriteLocked reports whether the status refuses new messages and evidence
// from non-operator actors. Unknown resolved_* / closed_* variants added
// later count as locked.
func WriteLocked(s Status) bool {
	switch s {
	case StatusResolvedRenter, StatusResolvedOwner, StatusResolvedPartial,
		StatusClosedByOpener, StatusClosedAuto:
		return true
	}
	return strings.HasPrefix(string(s), "resolved_") || strings.HasPrefix(string(s), "closed_")
}

// Stage is the coarse dimension operators filter on.
type Stage string

const (
	StageIntake           Stage = "intake"
	StageAwaitingRebuttal Stage = "awaiting_rebuttal"
	StageUnderReview      Stage = "under_review"
	StageResolved         Stage = "resolved"
)

// StageOf collapses a status into its operator-visible stage.
func StageOf(s Status) Stage {
	switch s {
	case StatusIntakeMissingEvidence:
		return StageIntake
	case StatusAwaitingRebuttal:
		return StageAwaitingRebuttal
	case StatusUnderReview:
		return StageUnderReview
	}
	if WriteLocked(s) {
		return StageResolved
	}
	return StageIntake
}

// Category classifies the reported problem.
type Category string

const (
	CategoryDamage           Category = "damage"
	CategoryMissingItem      Category = "missing_item"
	CategoryIncorrectCharges Category = "incorrect_charges"
	CategoryPickupNoShow     Category = "pickup_no_show"
)

func ValidCategory(c Category) bool {
	switch c {
	case CategoryDamage, CategoryMissingItem, CategoryIncorrectCharges, CategoryPickupNoShow:
		return true
	}
	return false
}

// Role identifies who authored a dispute message.
type Role string

const (
	RoleRenter Role = "renter"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

func ValidRole(r Role) bool {
	switch r {
	case RoleRenter, RoleOwner, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns the thread label for a role. Admin and system
// messages render as the support team; persistence is identical across
// roles.
func DisplayName(r Role) string {
	switch r {
	case RoleAdmin, RoleSystem:
		return "Support Team"
	case RoleOwner:
		return "Owner"
	default:
		return "Renter"
	}
}

// AVStatus is the anti-virus scan outcome, populated asynchronously by an
// external scanner, never by this subsystem.
type AVStatus string

const (
	AVPending  AVStatus = "pending"
	AVClean    AVStatus = "clean"
	AVFailed   AVStatus = "failed"
	AVInfected AVStatus = "infected"
)

// Message is one entry in the dispute thread. The thread is append-only;
// insertion order is chronological order.
type Message struct {
	ID        string
	Role      Role
	ActorID   *string
	Text      string
	CreatedAt time.Time
}

// Evidence is a registered file supporting a claim. Immutable once
// registered; a resubmission creates a new record.
type Evidence struct {
	ID             string
	Kind           evidence.Kind
	Filename       string
	ContentType    string
	Size           int64
	Width          int
	Height         int
	OriginalSize   int64
	CompressedSize int64
	IntegrityToken string
	AVStatus       AVStatus
	S3Key          string
	URL            string
	CreatedAt      time.Time
}

// Dispute mirrors the disputes table plus its ordered children.
type Dispute struct {
	ID            string
	BookingID     string
	Category      Category
	Flow          evidence.FlowKind
	Description   string
	OpenedBy      string
	Status        Status
	Messages      []Message
	Evidence      []Evidence
	EvidenceDueAt *time.Time
	RebuttalDueAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Locked reports whether mutation from ordinary actors is refused.
func (d Dispute) Locked() bool {
	return WriteLocked(d.Status)
}

// Outbox topics emitted by dispute writes.
const (
	TopicDisputeOpened            = "dispute.opened"
	TopicDisputeMessageCreated    = "dispute.message_created"
	TopicDisputeEvidenceSubmitted = "dispute.evidence_submitted"
	TopicDisputeClosed            = "dispute.closed"
	TopicDisputeResolved          = "dispute.resolved"
)
