package workflow

import (
	"fmt"

	"github.com/noah-isme/icrrus-api/internal/models"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
)

// Position is a request's place in its workflow: PENDING(Stage) or a terminal status.
// An APPROVED request sits one past its last stage.
type Position struct {
	Status models.BookingStatus
	Stage  int
}

// Initial is PENDING(0).
func Initial() Position {
	return Position{Status: models.BookingStatusPending, Stage: 0}
}

// PositionOf reads the position of a stored request.
func PositionOf(req *models.BookingRequest) Position {
	return Position{Status: req.Status, Stage: req.CurrentStage}
}

// Advance applies a decision at the current stage.
//
//	PENDING(i) --approve--> PENDING(i+1) | APPROVED when i is the last stage
//	PENDING(i) --reject-->  REJECTED
func Advance(tpl models.WorkflowTemplate, pos Position, decision models.Decision) (Position, error) {
	if pos.Status.Terminal() {
		return pos, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request is already %s", pos.Status))
	}
	if pos.Status != models.BookingStatusPending || pos.Stage < 0 || pos.Stage >= len(tpl.Stages) {
		return pos, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request has no stage %d in %s", pos.Stage, tpl.ID))
	}
	switch decision {
	case models.DecisionApproved:
		next := pos.Stage + 1
		if next < len(tpl.Stages) {
			return Position{Status: models.BookingStatusPending, Stage: next}, nil
		}
		return Position{Status: models.BookingStatusApproved, Stage: next}, nil
	case models.DecisionRejected:
		return Position{Status: models.BookingStatusRejected, Stage: pos.Stage}, nil
	default:
		return pos, appErrors.Clone(appErrors.ErrValidation, "decision must be APPROVED or REJECTED")
	}
}

// Withdraw moves a pending request to WITHDRAWN without touching its stage.
func Withdraw(pos Position) (Position, error) {
	if pos.Status != models.BookingStatusPending {
		return pos, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request is already %s", pos.Status))
	}
	return Position{Status: models.BookingStatusWithdrawn, Stage: pos.Stage}, nil
}

// CurrentStage returns the stage awaiting a decision, if any.
func CurrentStage(tpl models.WorkflowTemplate, req *models.BookingRequest) (models.ApprovalStage, bool) {
	if req == nil || req.Status != models.BookingStatusPending {
		return models.ApprovalStage{}, false
	}
	if req.CurrentStage < 0 || req.CurrentStage >= len(tpl.Stages) {
		return models.ApprovalStage{}, false
	}
	return tpl.Stages[req.CurrentStage], true
}

// NextApproverLabel is the label of the pending stage, or nil once terminal.
func NextApproverLabel(tpl models.WorkflowTemplate, req *models.BookingRequest) *string {
	stage, ok := CurrentStage(tpl, req)
	if !ok {
		return nil
	}
	label := stage.Label
	if label == "" {
		label = stage.Role.Label()
	}
	return &label
}

// CanDecide reports whether actor may approve or reject req right now.
func CanDecide(tpl models.WorkflowTemplate, actor models.Actor, req *models.BookingRequest) bool {
	stage, ok := CurrentStage(tpl, req)
	if !ok {
		return false
	}
	return ActorCanApprove(actor, stage, req)
}

// Timeline lays the decision records over the template stages.
func Timeline(tpl models.WorkflowTemplate, req *models.BookingRequest, records []models.ApprovalRecord) []models.TimelineEntry {
	byStage := make(map[int]models.ApprovalRecord, len(records))
	for _, rec := range records {
		byStage[rec.StageIndex] = rec
	}
	entries := make([]models.TimelineEntry, 0, len(tpl.Stages))
	for i, stage := range tpl.Stages {
		entry := models.TimelineEntry{StageIndex: i, Stage: stage, State: models.StageStateNotReached}
		if rec, ok := byStage[i]; ok {
			rec := rec
			entry.Record = &rec
			if rec.Decision == models.DecisionRejected {
				entry.State = models.StageStateRejected
			} else {
				entry.State = models.StageStateApproved
			}
		} else {
			switch req.Status {
			case models.BookingStatusPending:
				if i == req.CurrentStage {
					entry.State = models.StageStatePending
				}
			case models.BookingStatusRejected, models.BookingStatusWithdrawn:
				if i >= req.CurrentStage {
					entry.State = models.StageStateSkipped
				}
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// CheckTrail verifies the record invariants: at most one record per stage,
// strictly increasing stage indices, never more than the template length, and
// nothing recorded after a rejection.
func CheckTrail(tpl models.WorkflowTemplate, records []models.ApprovalRecord) error {
	if len(records) > len(tpl.Stages) {
		return fmt.Errorf("%d records exceed %d stages", len(records), len(tpl.Stages))
	}
	for i, rec := range records {
		if rec.StageIndex != i {
			return fmt.Errorf("record %d has stage index %d", i, rec.StageIndex)
		}
		if rec.Decision == models.DecisionRejected && i != len(records)-1 {
			return fmt.Errorf("record after rejection at stage %d", i)
		}
	}
	return nil
}
