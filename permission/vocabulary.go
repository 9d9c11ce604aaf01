package permission

import (
	"sort"
	"strings"

	"github.com/layer-3/sessionkit/core"
)

// Permission is a fine-grained capability granted through the scope claim.
type Permission string

const (
	ViewAppointments   Permission = "appointments:read"
	ManageAppointments Permission = "appointments:write"
	ViewPatients       Permission = "patients:read"
	ManagePatients     Permission = "patients:write"
	ViewBilling        Permission = "billing:read"
	ManageBilling      Permission = "billing:write"
	ViewImaging        Permission = "imaging:read"
	UploadImaging      Permission = "imaging:write"
	ViewReports        Permission = "reports:read"
	ManageUsers        Permission = "users:write"
)

// DefaultVocabulary lists every permission the client understands. Scope
// tokens outside it are dropped, so a permission added on the server stays
// invisible until it is listed here.
var DefaultVocabulary = []Permission{
	ViewAppointments, ManageAppointments,
	ViewPatients, ManagePatients,
	ViewBilling, ManageBilling,
	ViewImaging, UploadImaging,
	ViewReports,
	ManageUsers,
}

// RolePrefix tags role markers inside the scope claim.
const RolePrefix = "ROLE_"

// rolePrecedence lists recognized roles, strongest first.
var rolePrecedence = []core.Role{
	core.RoleAdmin,
	core.RoleDoctor,
	core.RoleNurse,
	core.RolePatient,
}

// DefaultRole is assigned when the scope carries no recognized marker.
const DefaultRole = core.RolePatient

// Marker returns the scope token for role, e.g. ROLE_ADMIN.
func Marker(role core.Role) string {
	return RolePrefix + strings.ToUpper(string(role))
}

func rank(role core.Role) int {
	for i, r := range rolePrecedence {
		if r == role {
			return len(rolePrecedence) - i
		}
	}
	return 0
}

// AtLeast reports whether role ranks at or above min.
func AtLeast(role, min core.Role) bool {
	r := rank(role)
	return r > 0 && r >= rank(min)
}

// Set is an immutable set of permissions.
type Set map[Permission]struct{}

// Has reports membership
func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Len returns the number of permissions
func (s Set) Len() int {
	return len(s)
}

// Slice returns the permissions sorted by name
func (s Set) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
