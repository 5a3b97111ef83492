package domain

import "errors"

// Storage-level sentinels shared by every repository backend.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("store unavailable")
)
