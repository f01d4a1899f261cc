package bot

import "errors"

// Precondition errors for session state machine misuse. These indicate a
// caller error and are surfaced immediately, never retried.
var (
	ErrMissingCredentials = errors.New("username and password must be set")
	ErrAlreadyLoggedIn    = errors.New("bot is already logged in")
	ErrNotLoggedIn        = errors.New("bot isn't logged in")
	ErrAlreadyStarted     = errors.New("bot has already been started")
	ErrNotStarted         = errors.New("bot hasn't been started")
	ErrStillRunning       = errors.New("bot must be stopped before logging out")
	ErrAlreadyLoggedOut   = errors.New("bot is already logged out")
)
