package moderation

import "errors"

// Sentinel errors returned by the dispatcher. The server maps them to HTTP
// status codes; callers should test with errors.Is.
var (
	// ErrUnauthorized means the actor's resolved role does not meet the
	// action's minimum role.
	ErrUnauthorized = errors.New("insufficient role for action")

	// ErrProtectedTarget means the target is on the owner/admin allow-list.
	// Checked fresh on every dispatch, never from a cache.
	ErrProtectedTarget = errors.New("target account is protected")

	// ErrValidation means the request is malformed; no side effect was taken.
	ErrValidation = errors.New("invalid moderation request")

	// ErrNotFound means the referenced target record does not exist.
	ErrNotFound = errors.New("target not found")
)
