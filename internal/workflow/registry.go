package workflow

import "github.com/noah-isme/icrrus-api/internal/models"

// approvalAuthority maps each approving role to the stage kinds it may decide.
// Roles missing from the table (renters, students, librarians) approve nothing.
var approvalAuthority = map[models.Role]map[models.StageKey]struct{}{
	models.RoleDepartmentEndorser: {
		models.StageDepartmentEndorsement: {},
	},
	models.RoleSuperAdmin: {
		models.StageLetterOfIntentReview: {},
	},
	models.RoleProgramChair: {
		models.StageProgramChairApproval: {},
	},
	models.RoleServiceDepartmentAdmin: {
		models.StageITSOClearance: {},
	},
	models.RoleFacilityAdmin: {
		models.StageFacilityApproval: {},
	},
}

// RoleCanApprove reports whether role carries authority over stage kinds named key.
// Unknown pairs return false.
func RoleCanApprove(role models.Role, key models.StageKey) bool {
	stages, ok := approvalAuthority[role]
	if !ok {
		return false
	}
	_, ok = stages[key]
	return ok
}

// ActorCanApprove applies RoleCanApprove plus the scope carried by the actor:
// program chairs decide only for their own program and service department admins
// only for stages owned by their department.
func ActorCanApprove(actor models.Actor, stage models.ApprovalStage, req *models.BookingRequest) bool {
	if actor.UserID == "" || actor.Role != stage.Role {
		return false
	}
	if !RoleCanApprove(actor.Role, stage.Key) {
		return false
	}
	if stage.Department != "" && actor.Department != stage.Department {
		return false
	}
	if stage.ProgramScoped {
		program := req.ProgramValue()
		if program == "" || actor.Program != program {
			return false
		}
	}
	return true
}

// KnownRole reports whether role exists in the registry.
func KnownRole(role models.Role) bool {
	return role.Known()
}

// ApprovingRoles lists roles that hold authority over at least one stage kind.
func ApprovingRoles() []models.Role {
	roles := make([]models.Role, 0, len(approvalAuthority))
	for _, role := range models.AllRoles {
		if _, ok := approvalAuthority[role]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}
