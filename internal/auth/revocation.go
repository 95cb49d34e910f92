package auth

import (
	"context"
	"time"
)

// RevocationStore records refresh token ids that must no longer be accepted.
// Entries only need to live until the token would have expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}
