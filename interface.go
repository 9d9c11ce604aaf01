package sessionkit

import (
	"github.com/layer-3/sessionkit/core"
	"github.com/layer-3/sessionkit/permission"
	"github.com/layer-3/sessionkit/service"
)

// SessionView is the read-only view of the session handed to presentation
// code. Every query is answered from the current access credential.
type SessionView interface {
	// Snapshot returns a copy of the session record
	Snapshot() core.Session

	// IsAuthenticated reports whether a usable access credential is held
	IsAuthenticated() bool

	// Principal returns the authenticated principal, or nil
	Principal() *core.Principal

	// HasPermission reports whether the current credential grants p
	HasPermission(p permission.Permission) bool

	// HasAny reports whether the current credential grants any of ps
	HasAny(ps ...permission.Permission) bool

	// HasAll reports whether the current credential grants all of ps
	HasAll(ps ...permission.Permission) bool
}

var _ SessionView = (*service.SessionManager)(nil)
var _ SessionView = (*Client)(nil)
