package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RolePartner           = "partner"
	RoleManager           = "manager"
	RoleReviewer          = "reviewer"
	RoleAnalyst           = "analyst"
	RoleSuperAdmin        = "super_admin"
	RoleComplianceAuditor = "compliance_auditor" // hidden role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleComplianceAuditor }
