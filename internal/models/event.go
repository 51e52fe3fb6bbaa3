package models

import "time"

// WorkflowEventKind labels a state change worth pushing to portals.
type WorkflowEventKind string

const (
	EventSubmitted WorkflowEventKind = "booking.submitted"
	EventAdvanced  WorkflowEventKind = "booking.advanced"
	EventApproved  WorkflowEventKind = "booking.approved"
	EventRejected  WorkflowEventKind = "booking.rejected"
	EventWithdrawn WorkflowEventKind = "booking.withdrawn"
)

// WorkflowEvent describes one transition. AwaitingStage is set while the request
// still needs a decision; ReleasedRole is the role whose queue the request left.
type WorkflowEvent struct {
	Kind          WorkflowEventKind `json:"kind"`
	RequestID     string            `json:"requestId"`
	TemplateID    TemplateID        `json:"templateId"`
	RequesterID   string            `json:"requesterId"`
	Program       Program           `json:"program,omitempty"`
	Status        BookingStatus     `json:"status"`
	StageIndex    int               `json:"stageIndex"`
	AwaitingStage *ApprovalStage    `json:"awaitingStage,omitempty"`
	ReleasedRole  Role              `json:"releasedRole,omitempty"`
	At            time.Time         `json:"at"`
}
