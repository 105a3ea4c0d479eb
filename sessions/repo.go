package sessions

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Repo.Load for unknown ids.
var ErrNotFound = errors.New("session not found")

// Repo is the persistence behind a Store. Implementations store copies and
// need not enforce expiry; the Store does that.
type Repo interface {
	// Save creates or replaces a session
	Save(ctx context.Context, s *Session) error

	// Load returns ErrNotFound for unknown ids
	Load(ctx context.Context, id string) (*Session, error)

	// Delete removes a session; deleting an unknown id is not an error
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes sessions whose expiry is at or before now
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
