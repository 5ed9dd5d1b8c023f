package cache

// ErrorCode classifies cache failures.
type ErrorCode string

const (
	// ErrCorrupt is recorded when the persisted cache could not be parsed.
	// The cache starts empty in that case.
	ErrCorrupt ErrorCode = "CacheCorrupt"
	// ErrWrite is returned by Store and Clear when persisting fails. The
	// in-memory state is updated regardless.
	ErrWrite ErrorCode = "CacheWrite"
)
