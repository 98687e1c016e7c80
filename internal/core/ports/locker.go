package ports

import "context"

// IdentityLocker serializes the submissions of a signing identity so that
// sequence numbers are never used twice.
type IdentityLocker interface {
	// Lock blocks until the identity is free or ctx is done. The returned
	// func releases the lock and must be called exactly once.
	Lock(ctx context.Context, identity string) (func(), error)
	Close()
}
