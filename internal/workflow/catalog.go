package workflow

import (
	"fmt"
	"sort"

	"github.com/spf13/viper"

	"github.com/noah-isme/icrrus-api/internal/models"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
)

// DefaultTemplates is the built-in template table.
func DefaultTemplates() []models.WorkflowTemplate {
	endorsement := models.ApprovalStage{
		Key:   models.StageDepartmentEndorsement,
		Label: "Department Endorser",
		Role:  models.RoleDepartmentEndorser,
	}
	letterOfIntent := models.ApprovalStage{
		Key:   models.StageLetterOfIntentReview,
		Label: "Super Admin (letter of intent review)",
		Role:  models.RoleSuperAdmin,
	}
	programChair := models.ApprovalStage{
		Key:           models.StageProgramChairApproval,
		Label:         "Program Chair",
		Role:          models.RoleProgramChair,
		ProgramScoped: true,
	}
	itso := models.ApprovalStage{
		Key:        models.StageITSOClearance,
		Label:      "ITSO",
		Role:       models.RoleServiceDepartmentAdmin,
		Department: models.DepartmentITSO,
	}
	fmo := models.ApprovalStage{
		Key:   models.StageFacilityApproval,
		Label: "FMO",
		Role:  models.RoleFacilityAdmin,
	}

	return []models.WorkflowTemplate{
		{ID: models.TemplateAffiliateVenue, Stages: []models.ApprovalStage{endorsement, fmo}},
		{ID: models.TemplateGuestVenue, Stages: []models.ApprovalStage{letterOfIntent, fmo}},
		{ID: models.TemplateStudentSpecialtyRoom, Stages: []models.ApprovalStage{programChair, fmo}},
		{ID: models.TemplateStudentComputerLab, Stages: []models.ApprovalStage{programChair, itso, fmo}},
		{ID: models.TemplateStudentScienceLab, Stages: []models.ApprovalStage{programChair, fmo}},
	}
}

// Catalog is the validated, read-only template table.
type Catalog struct {
	templates map[models.TemplateID]models.WorkflowTemplate
	order     []models.TemplateID
}

// NewCatalog validates templates and builds a catalog. Any violation is a
// configuration error meant to abort startup.
func NewCatalog(templates []models.WorkflowTemplate) (*Catalog, error) {
	c := &Catalog{templates: make(map[models.TemplateID]models.WorkflowTemplate, len(templates))}
	for _, tpl := range templates {
		if tpl.ID == "" {
			return nil, configErr("template id is required")
		}
		if _, dup := c.templates[tpl.ID]; dup {
			return nil, configErr(fmt.Sprintf("template %s defined twice", tpl.ID))
		}
		if err := validateTemplate(tpl); err != nil {
			return nil, err
		}
		stages := make([]models.ApprovalStage, len(tpl.Stages))
		copy(stages, tpl.Stages)
		c.templates[tpl.ID] = models.WorkflowTemplate{ID: tpl.ID, Stages: stages}
		c.order = append(c.order, tpl.ID)
	}
	for _, id := range classifiedTemplates() {
		if _, ok := c.templates[id]; !ok {
			return nil, configErr(fmt.Sprintf("classifier targets missing template %s", id))
		}
	}
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })
	return c, nil
}

// LoadCatalog builds the catalog from the YAML file at path, or from the
// built-in table when path is empty.
//
//	templates:
//	  - id: AFFILIATE_VENUE
//	    stages:
//	      - {key: DEPARTMENT_ENDORSEMENT, label: Department Endorser, role: DEPARTMENT_ENDORSER}
//	      - {key: FMO_APPROVAL, label: FMO, role: FACILITY_ADMIN}
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(DefaultTemplates())
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, "read workflow templates")
	}
	var templates []models.WorkflowTemplate
	if err := v.UnmarshalKey("templates", &templates); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, "decode workflow templates")
	}
	if len(templates) == 0 {
		return nil, configErr(fmt.Sprintf("%s defines no templates", path))
	}
	return NewCatalog(templates)
}

func validateTemplate(tpl models.WorkflowTemplate) error {
	if len(tpl.Stages) == 0 {
		return configErr(fmt.Sprintf("template %s has no stages", tpl.ID))
	}
	seen := make(map[models.StageKey]struct{}, len(tpl.Stages))
	for i, stage := range tpl.Stages {
		if !KnownRole(stage.Role) {
			return configErr(fmt.Sprintf("template %s stage %d names unknown role %q", tpl.ID, i, stage.Role))
		}
		if !RoleCanApprove(stage.Role, stage.Key) {
			return configErr(fmt.Sprintf("template %s stage %d: role %s has no authority over %s", tpl.ID, i, stage.Role, stage.Key))
		}
		if _, dup := seen[stage.Key]; dup {
			return configErr(fmt.Sprintf("template %s repeats stage %s", tpl.ID, stage.Key))
		}
		seen[stage.Key] = struct{}{}
	}
	return nil
}

func configErr(message string) error {
	return appErrors.Clone(appErrors.ErrConfiguration, message)
}

// Template returns the ordered stages for id.
func (c *Catalog) Template(id models.TemplateID) (models.WorkflowTemplate, error) {
	tpl, ok := c.templates[id]
	if !ok {
		return models.WorkflowTemplate{}, configErr(fmt.Sprintf("unknown workflow template %s", id))
	}
	return tpl, nil
}

// Stage returns stage index of template id.
func (c *Catalog) Stage(id models.TemplateID, index int) (models.ApprovalStage, bool) {
	tpl, ok := c.templates[id]
	if !ok || index < 0 || index >= len(tpl.Stages) {
		return models.ApprovalStage{}, false
	}
	return tpl.Stages[index], true
}

// Templates lists every template sorted by id.
func (c *Catalog) Templates() []models.WorkflowTemplate {
	out := make([]models.WorkflowTemplate, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.templates[id])
	}
	return out
}
