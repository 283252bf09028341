package domain

import "strings"

const (
	RoleRider    = "RIDER"
	RoleStaff    = "STAFF"
	RoleOutsider = "OUTSIDER"
	RoleKitchen  = "KITCHEN"
	RoleAdmin    = "ADMIN"
)

const (
	PermSessionCheckin = "session:checkin"
	PermSessionManage  = "session:manage"
	PermOrderPlace     = "order:place"
	PermOrderUpdate    = "order:update"
	PermOrderStatus    = "order:status"
	PermKitchenOrders  = "kitchen:orders"
	PermBillRequest    = "bill:request"
	PermBillGenerate   = "bill:generate"
	PermMenuWrite      = "menu:write"
	PermUserManage     = "user:manage"
	PermAnnounce       = "announce:write"
	PermAuditRead      = "audit:read"
)

// rolePermissions is the static capability matrix. No inheritance, no
// wildcard: a role has exactly the permissions listed.
var rolePermissions = map[string][]string{
	RoleRider: {
		PermSessionCheckin, PermOrderPlace, PermOrderUpdate, PermBillRequest,
	},
	RoleStaff: {
		PermSessionCheckin, PermSessionManage, PermOrderPlace, PermOrderUpdate,
		PermBillRequest, PermBillGenerate,
	},
	RoleOutsider: {
		PermSessionCheckin, PermOrderPlace, PermBillRequest,
	},
	RoleKitchen: {
		PermKitchenOrders, PermOrderStatus, PermBillGenerate,
	},
	RoleAdmin: {
		PermSessionCheckin, PermSessionManage, PermOrderPlace, PermOrderUpdate,
		PermOrderStatus, PermKitchenOrders, PermBillRequest, PermBillGenerate,
		PermMenuWrite, PermUserManage, PermAnnounce, PermAuditRead,
	},
}

// legacyRoleAliases maps role names left behind by earlier schema versions.
// Matching is done on the raw lower-cased value before the uppercase pass,
// so a stored "staff" (legacy kitchen staff) maps to KITCHEN while "STAFF"
// remains the current front-of-house role.
var legacyRoleAliases = map[string]string{
	"student":         RoleRider,
	"kitchen_manager": RoleKitchen,
	"staff":           RoleKitchen,
	"guest":           RoleOutsider,
}

// NormalizeRole converts a stored role value to its canonical form. It is
// applied once at the storage read boundary; consumers only ever see
// canonical roles.
func NormalizeRole(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if mapped, ok := legacyRoleAliases[trimmed]; ok {
		return mapped
	}
	return strings.ToUpper(trimmed)
}

// HasPermission is a pure set-membership test against the capability matrix.
func HasPermission(role string, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CanAccess reports whether role may reach an endpoint guarded by the given
// role list. An empty list means public.
func CanAccess(role string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if role == r {
			return true
		}
	}
	return false
}
