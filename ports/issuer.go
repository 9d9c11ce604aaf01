package ports

import (
	"context"

	"github.com/layer-3/sessionkit/core"
)

// Issuer is the issuing server as seen from the client
type Issuer interface {
	// Login exchanges user credentials for a token pair
	Login(ctx context.Context, username, password string) (core.TokenPair, error)

	// Refresh exchanges a renewal credential for a new token pair
	Refresh(ctx context.Context, renewal core.Credential) (core.TokenPair, error)

	// Introspect asks the server whether the access credential is still valid
	Introspect(ctx context.Context, access core.Credential) (bool, error)

	// Logout invalidates the session server-side
	Logout(ctx context.Context, access core.Credential) error
}
