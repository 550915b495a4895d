package shared

import "github.com/beacon-dash/beacon/internal/authz"

// Permissions checked by HTTP handlers. Role grants live in the catalog.
const (
	PermDashboardView authz.Permission = "dashboard.view"

	PermContentRead    authz.Permission = "content.read"
	PermContentCreate  authz.Permission = "content.create"
	PermContentUpdate  authz.Permission = "content.update"
	PermContentDelete  authz.Permission = "content.delete"
	PermContentPublish authz.Permission = "content.publish"

	PermUserRead   authz.Permission = "user.read"
	PermUserCreate authz.Permission = "user.create"
	PermUserUpdate authz.Permission = "user.update"
	PermUserDelete authz.Permission = "user.delete"

	PermRoleRead       authz.Permission = "role.read"
	PermRoleAssign     authz.Permission = "role.assign"
	PermRoleUpdate     authz.Permission = "role.update"
	PermPermissionRead authz.Permission = "permission.read"

	PermAuditView authz.Permission = "audit.view"

	PermSecurityView   authz.Permission = "security.view"
	PermSecurityManage authz.Permission = "security.manage"

	PermConfigView   authz.Permission = "config.view"
	PermConfigUpdate authz.Permission = "config.update"

	PermNotificationRead authz.Permission = "notification.read"
	PermNotificationSend authz.Permission = "notification.send"

	PermAnalyticsView   authz.Permission = "analytics.view"
	PermAnalyticsExport authz.Permission = "analytics.export"

	PermSystemManage authz.Permission = "system.manage"
)

// KnownPermissions lists every permission a handler checks.
func KnownPermissions() []authz.Permission {
	return []authz.Permission{
		PermDashboardView,
		PermContentRead, PermContentCreate, PermContentUpdate, PermContentDelete, PermContentPublish,
		PermUserRead, PermUserCreate, PermUserUpdate, PermUserDelete,
		PermRoleRead, PermRoleAssign, PermRoleUpdate, PermPermissionRead,
		PermAuditView,
		PermSecurityView, PermSecurityManage,
		PermConfigView, PermConfigUpdate,
		PermNotificationRead, PermNotificationSend,
		PermAnalyticsView, PermAnalyticsExport,
		PermSystemManage,
	}
}
