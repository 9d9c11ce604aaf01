package sessionkit

import "github.com/layer-3/sessionkit/core"

// Errors callers match with errors.Is. Each one also classifies as the
// core.ErrorKind of the same name.
var (
	ErrDecode            = core.ErrDecode
	ErrExpiredCredential = core.ErrExpiredCredential
	ErrRenewalFailed     = core.ErrRenewalFailed
	ErrUnauthorized      = core.ErrUnauthorized
	ErrForbidden         = core.ErrForbidden
	ErrBadRequest        = core.ErrBadRequest
	ErrNetwork           = core.ErrNetwork
	ErrServer            = core.ErrServer
	ErrStorage           = core.ErrStorage
	ErrNoSession         = core.ErrNoSession
)
