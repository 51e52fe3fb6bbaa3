package models

import "time"

// RequesterCategory drives template selection together with the resource type.
type RequesterCategory string

const (
	CategoryAffiliate RequesterCategory = "AFFILIATE"
	CategoryGuest     RequesterCategory = "GUEST"
	CategoryStudent   RequesterCategory = "STUDENT"
)

// ResourceType enumerates bookable campus resources.
type ResourceType string

const (
	ResourceVenue         ResourceType = "VENUE"
	ResourceSpecialtyRoom ResourceType = "SPECIALTY_ROOM"
	ResourceComputerLab   ResourceType = "COMPUTER_LAB"
	ResourceScienceLab    ResourceType = "SCIENCE_LAB"
	ResourceClassroom     ResourceType = "CLASSROOM"
	ResourceStudyRoom     ResourceType = "STUDY_ROOM"
	ResourceServiceTicket ResourceType = "SERVICE_TICKET"
)

// ArtifactKind classifies the supporting document attached to a request.
type ArtifactKind string

const (
	ArtifactNone              ArtifactKind = "NONE"
	ArtifactEndorsementLetter ArtifactKind = "ENDORSEMENT_LETTER"
	ArtifactLetterOfIntent    ArtifactKind = "LETTER_OF_INTENT"
)

// BookingStatus is the coarse lifecycle state; PENDING is refined by CurrentStage.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusApproved  BookingStatus = "APPROVED"
	BookingStatusRejected  BookingStatus = "REJECTED"
	BookingStatusWithdrawn BookingStatus = "WITHDRAWN"
)

// Terminal reports whether no further transition may leave the status.
func (s BookingStatus) Terminal() bool {
	return s == BookingStatusApproved || s == BookingStatusRejected || s == BookingStatusWithdrawn
}

// BookingRequest is one reservation attempt moving through its workflow template.
type BookingRequest struct {
	ID                string            `db:"id" json:"id"`
	RequesterID       string            `db:"requester_id" json:"requesterId"`
	RequesterCategory RequesterCategory `db:"requester_category" json:"requesterCategory"`
	Program           *string           `db:"program" json:"program,omitempty"`
	ResourceType      ResourceType      `db:"resource_type" json:"resourceType"`
	ResourceName      string            `db:"resource_name" json:"resourceName"`
	Purpose           string            `db:"purpose" json:"purpose"`
	StartsAt          time.Time         `db:"starts_at" json:"startsAt"`
	EndsAt            time.Time         `db:"ends_at" json:"endsAt"`
	ArtifactKind      ArtifactKind      `db:"artifact_kind" json:"artifactKind"`
	ArtifactRef       *string           `db:"artifact_ref" json:"artifactRef,omitempty"`
	TemplateID        TemplateID        `db:"template_id" json:"templateId"`
	Status            BookingStatus     `db:"status" json:"status"`
	CurrentStage      int               `db:"current_stage" json:"currentStage"`
	CreatedAt         time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updatedAt"`
	WithdrawnAt       *time.Time        `db:"withdrawn_at" json:"withdrawnAt,omitempty"`
}

// ProgramValue returns the request program or the empty program.
func (b *BookingRequest) ProgramValue() Program {
	if b == nil || b.Program == nil {
		return ""
	}
	return Program(*b.Program)
}

// Decision is the outcome recorded for a stage.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
	DecisionPending  Decision = "PENDING"
)

// ApprovalRecord is one append-only stage outcome.
type ApprovalRecord struct {
	ID         string    `db:"id" json:"id"`
	RequestID  string    `db:"request_id" json:"requestId"`
	StageIndex int       `db:"stage_index" json:"stageIndex"`
	StageKey   StageKey  `db:"stage_key" json:"stageKey"`
	Decision   Decision  `db:"decision" json:"decision"`
	ActorID    string    `db:"actor_id" json:"actorId"`
	ActorRole  Role      `db:"actor_role" json:"actorRole"`
	Comment    *string   `db:"comment" json:"comment,omitempty"`
	DecidedAt  time.Time `db:"decided_at" json:"decidedAt"`
}

// BookingFilter constrains listing queries.
type BookingFilter struct {
	Status      []BookingStatus
	TemplateID  TemplateID
	Stage       *int
	RequesterID string
	Limit       int
	Offset      int
}

// StageCount aggregates pending requests sitting at one stage of one template,
// split by requester program so program-scoped stages can be counted per chair.
type StageCount struct {
	TemplateID TemplateID `db:"template_id"`
	StageIndex int        `db:"current_stage"`
	Program    *string    `db:"program"`
	Total      int        `db:"total"`
}

// TransitionParams describes a compare-and-swap on a request's workflow position.
type TransitionParams struct {
	RequestID      string
	ExpectedStage  int
	NewStatus      BookingStatus
	NewStage       int
	At             time.Time
	Record         *ApprovalRecord
	MarkWithdrawal bool
}
