package postgres

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Locker implements the distributed lease lock on the locks table. A
// lease is won by inserting the key, or by stealing a row whose lease
// already expired. Only the owner's release deletes the row; an
// expired lease left behind by a crashed process is simply taken over.
type Locker struct {
	db    *DB
	owner string
}

// NewLocker creates a locker with a random per-process owner token.
func NewLocker(db *DB) (*Locker, error) {
	owner, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate lock owner: %w", err)
	}
	return &Locker{db: db, owner: owner}, nil
}

// TryAcquire attempts to take the lease without blocking. It reports
// false when another live owner holds the key.
func (l *Locker) TryAcquire(ctx context.Context, key string, lease time.Duration) (bool, error) {
	res, err := l.db.db.ExecContext(ctx, `
		INSERT INTO locks (key, owner, expires_at)
		VALUES ($1, $2, now() + $3 * interval '1 second')
		ON CONFLICT (key) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE locks.expires_at < now()`,
		key, l.owner, lease.Seconds())
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	return n == 1, nil
}

// Release drops the lease if this process still owns it.
func (l *Locker) Release(ctx context.Context, key string) error {
	_, err := l.db.db.ExecContext(ctx,
		`DELETE FROM locks WHERE key = $1 AND owner = $2`, key, l.owner)
	if err != nil {
		return fmt.Errorf("release lock %q: %w", key, err)
	}
	return nil
}
