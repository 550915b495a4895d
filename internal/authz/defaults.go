package authz

// Built-in role tiers, least to most privileged.
const (
	RoleOfficer    Role = "Officer"
	RoleLeader     Role = "Leader"
	RoleManager    Role = "Manager"
	RoleSupervisor Role = "Supervisor"
	RoleDirector   Role = "Director"
	RoleAdmin      Role = "Admin"
	RoleSuperAdmin Role = "SuperAdmin"
)

// DefaultCatalogSpec returns the catalog used when no file or database source
// is configured. Inheritance is written as direct parents.
func DefaultCatalogSpec() CatalogSpec {
	return CatalogSpec{
		Inheritance: InheritanceDirect,
		TopRole:     RoleSuperAdmin,
		AdminRole:   RoleAdmin,
		Ranks: map[Role]int{
			RoleOfficer:    1,
			RoleLeader:     2,
			RoleManager:    3,
			RoleSupervisor: 4,
			RoleDirector:   5,
			RoleAdmin:      6,
			RoleSuperAdmin: 7,
		},
		Permissions: map[Role][]Permission{
			RoleOfficer: {
				"content.read",
				"content.create",
				"notification.read",
				"dashboard.view",
			},
			RoleLeader: {
				"content.update",
				"user.read",
			},
			RoleManager: {
				"content.delete",
				"content.publish",
				"user.create",
				"user.update",
				"role.read",
				"analytics.view",
			},
			RoleSupervisor: {
				"audit.view",
				"notification.send",
			},
			RoleDirector: {
				"analytics.export",
				"security.view",
				"user.delete",
			},
			RoleAdmin: {
				"role.assign",
				"role.update",
				"permission.read",
				"config.view",
				"config.update",
				"security.manage",
			},
			RoleSuperAdmin: {
				"system.manage",
			},
		},
		Inherits: map[Role][]Role{
			RoleLeader:     {RoleOfficer},
			RoleManager:    {RoleLeader},
			RoleSupervisor: {RoleManager},
			RoleDirector:   {RoleSupervisor},
			RoleAdmin:      {RoleDirector},
			RoleSuperAdmin: {RoleAdmin},
		},
		Descriptions: map[Role]string{
			RoleOfficer:    "Reads and drafts content",
			RoleLeader:     "Edits content and sees the team roster",
			RoleManager:    "Manages users and publishes content",
			RoleSupervisor: "Reviews audit trails and sends notices",
			RoleDirector:   "Oversees security and exports reports",
			RoleAdmin:      "Administers roles and system settings",
			RoleSuperAdmin: "Unrestricted platform owner",
		},
	}
}
