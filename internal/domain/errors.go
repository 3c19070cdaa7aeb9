package domain

import "errors"

// Repository sentinels. Services translate them into typed application errors.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// ErrStaleState means a compare-and-set update matched no row
	ErrStaleState = errors.New("stale state")
)
