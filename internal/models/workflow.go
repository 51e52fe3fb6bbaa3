package models

// TemplateID names a workflow template.
type TemplateID string

const (
	TemplateAffiliateVenue       TemplateID = "AFFILIATE_VENUE"
	TemplateGuestVenue           TemplateID = "GUEST_VENUE"
	TemplateStudentSpecialtyRoom TemplateID = "STUDENT_SPECIALTY_ROOM"
	TemplateStudentComputerLab   TemplateID = "STUDENT_COMPUTER_LAB"
	TemplateStudentScienceLab    TemplateID = "STUDENT_SCIENCE_LAB"
)

// StageKey identifies the kind of decision a stage asks for.
type StageKey string

const (
	StageDepartmentEndorsement StageKey = "DEPARTMENT_ENDORSEMENT"
	StageLetterOfIntentReview  StageKey = "LETTER_OF_INTENT_REVIEW"
	StageProgramChairApproval  StageKey = "PROGRAM_CHAIR_APPROVAL"
	StageITSOClearance         StageKey = "ITSO_CLEARANCE"
	StageFacilityApproval      StageKey = "FMO_APPROVAL"
)

// ApprovalStage is one step of a template requiring a single role's decision.
type ApprovalStage struct {
	Key           StageKey   `json:"key" mapstructure:"key"`
	Label         string     `json:"label" mapstructure:"label"`
	Role          Role       `json:"role" mapstructure:"role"`
	Department    Department `json:"department,omitempty" mapstructure:"department"`
	ProgramScoped bool       `json:"programScoped,omitempty" mapstructure:"program_scoped"`
}

// WorkflowTemplate is an ordered list of approval stages.
type WorkflowTemplate struct {
	ID     TemplateID      `json:"id" mapstructure:"id"`
	Stages []ApprovalStage `json:"stages" mapstructure:"stages"`
}

// StageState describes a template stage relative to a request's progress.
type StageState string

const (
	StageStateApproved   StageState = "APPROVED"
	StageStateRejected   StageState = "REJECTED"
	StageStatePending    StageState = "PENDING"
	StageStateNotReached StageState = "NOT_REACHED"
	StageStateSkipped    StageState = "SKIPPED"
)

// TimelineEntry is one row of the per-stage view shown to portals.
type TimelineEntry struct {
	StageIndex int             `json:"stageIndex"`
	Stage      ApprovalStage   `json:"stage"`
	State      StageState      `json:"state"`
	Record     *ApprovalRecord `json:"record,omitempty"`
}
