package dto

import (
	"time"

	"github.com/noah-isme/icrrus-api/internal/models"
)

// SubmitBookingRequest is the renter/student booking form.
type SubmitBookingRequest struct {
	RequesterCategory models.RequesterCategory `json:"requesterCategory" validate:"omitempty,oneof=AFFILIATE GUEST STUDENT"`
	Program           string                   `json:"program" validate:"max=16"`
	ResourceType      models.ResourceType      `json:"resourceType" validate:"required"`
	ResourceName      string                   `json:"resourceName" validate:"required,max=200"`
	Purpose           string                   `json:"purpose" validate:"max=1000"`
	StartsAt          time.Time                `json:"startsAt" validate:"required"`
	EndsAt            time.Time                `json:"endsAt" validate:"required,gtfield=StartsAt"`
	ArtifactKind      models.ArtifactKind      `json:"artifactKind" validate:"omitempty,oneof=NONE ENDORSEMENT_LETTER LETTER_OF_INTENT"`
	ArtifactRef       string                   `json:"artifactRef" validate:"max=512"`
}

// DecisionRequest carries an approver's verdict on the current stage.
type DecisionRequest struct {
	Decision models.Decision `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
	Comment  string          `json:"comment" validate:"max=1000"`
	// StageIndex, when set, must equal the request's current stage.
	StageIndex *int `json:"stageIndex" validate:"omitempty,min=0"`
}

// ClassifyRequest previews which workflow a request would follow.
type ClassifyRequest struct {
	RequesterCategory models.RequesterCategory `json:"requesterCategory"`
	ResourceType      models.ResourceType      `json:"resourceType" validate:"required"`
}

// ClassifyResponse names the selected template and its stages.
type ClassifyResponse struct {
	TemplateID models.TemplateID      `json:"templateId"`
	Stages     []models.ApprovalStage `json:"stages"`
}

// BookingQuery mirrors supported listing filters.
type BookingQuery struct {
	Status     []models.BookingStatus
	TemplateID models.TemplateID
	Limit      int
	Offset     int
}

// BookingDetail is a request together with its projected workflow state.
type BookingDetail struct {
	Request      *models.BookingRequest `json:"request"`
	Timeline     []models.TimelineEntry `json:"timeline"`
	NextApprover *string                `json:"nextApprover"`
	CanDecide    bool                   `json:"canDecide"`
	CanWithdraw  bool                   `json:"canWithdraw"`
}

// BookingSummary is one row of a listing with its next approver label.
type BookingSummary struct {
	models.BookingRequest
	NextApprover *string `json:"nextApprover"`
}

// BadgeResponse reports pending counts for the caller's portal.
type BadgeResponse struct {
	Role    models.Role         `json:"role"`
	Pending int                 `json:"pending"`
	ByRole  map[models.Role]int `json:"byRole,omitempty"`
}

// ArtifactResponse describes a stored supporting document.
type ArtifactResponse struct {
	Ref         string              `json:"ref"`
	Kind        models.ArtifactKind `json:"kind"`
	ContentType string              `json:"contentType"`
	Size        int64               `json:"size"`
	DownloadURL string              `json:"downloadUrl"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}
