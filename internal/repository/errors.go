// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios without
// inspecting SQL errors. Handlers translate them into wire status
// codes exactly once; nothing below the handler layer formats HTTP
// responses.
package repository

import "errors"

// ErrInvalidCredentials is returned by credential verification when the
// user does not exist or the password does not match. The two cases are
// deliberately indistinguishable so that login attempts cannot be used
// to enumerate accounts. Handlers should translate this into HTTP 401.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrUserInactive is returned when an account exists but has been
// deactivated. Handlers should translate this into HTTP 401 as well.
var ErrUserInactive = errors.New("user inactive")
