package workflow

import (
	"fmt"

	"github.com/noah-isme/icrrus-api/internal/models"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
)

type classKey struct {
	category models.RequesterCategory
	resource models.ResourceType
}

// classification holds the observed requester/resource pairs. The computer lab
// path carries an extra ITSO stage; nothing here generalises that to other labs.
var classification = map[classKey]models.TemplateID{
	{models.CategoryAffiliate, models.ResourceVenue}:       models.TemplateAffiliateVenue,
	{models.CategoryGuest, models.ResourceVenue}:           models.TemplateGuestVenue,
	{models.CategoryStudent, models.ResourceSpecialtyRoom}: models.TemplateStudentSpecialtyRoom,
	{models.CategoryStudent, models.ResourceComputerLab}:   models.TemplateStudentComputerLab,
	{models.CategoryStudent, models.ResourceScienceLab}:    models.TemplateStudentScienceLab,
}

// Classify selects the workflow template for a requester category and resource.
// A missing category is treated as GUEST: an external renter without the
// affiliate flag is unvetted.
func Classify(category models.RequesterCategory, resource models.ResourceType) (models.TemplateID, error) {
	if category == "" {
		category = models.CategoryGuest
	}
	id, ok := classification[classKey{category: category, resource: resource}]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrClassification,
			fmt.Sprintf("no workflow for %s requesting %s", category, resource))
	}
	return id, nil
}

// CategoryForRole derives the requester category implied by an actor role.
func CategoryForRole(role models.Role) (models.RequesterCategory, bool) {
	switch role {
	case models.RoleAffiliateRenter:
		return models.CategoryAffiliate, true
	case models.RoleGuestRenter:
		return models.CategoryGuest, true
	case models.RoleStudent:
		return models.CategoryStudent, true
	default:
		return "", false
	}
}

func classifiedTemplates() []models.TemplateID {
	ids := make([]models.TemplateID, 0, len(classification))
	for _, id := range classification {
		ids = append(ids, id)
	}
	return ids
}
