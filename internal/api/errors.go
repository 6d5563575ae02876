package api

import "errors"

var (
	ErrNotFound    = errors.New("channel not found")
	ErrRateLimited = errors.New("rate limited by server")
	ErrAuthFailed  = errors.New("authentication failed")
	// ErrTooOld means the requested position fell out of the server's
	// difference window; the caller must fetch a full snapshot instead.
	ErrTooOld = errors.New("position too old for difference")
)
