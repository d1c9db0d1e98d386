package store

import (
	"context"
	"fmt"
	"time"
)

// lockName is the single lock a daemon instance holds for its database.
const lockName = "quotabar-d"

// AcquireLock claims the single-instance daemon lock. Returns true on
// success; a second daemon pointed at the same database gets false
// until the first one's lock expires. A holder re-acquiring its own
// lock renews it.
func (s *Store) AcquireLock(ctx context.Context, holderID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiry := now.Add(ttl)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_lock (name, holder_id, expires_at)
		VALUES (?, ?, ?)
	`, lockName, holderID, expiry)
	if err == nil {
		return true, nil
	}

	// Row exists: take over only if expired, or renew if we already
	// hold it. Single atomic UPDATE avoids a read-then-write race.
	res, err := s.db.ExecContext(ctx, `
		UPDATE daemon_lock
		SET holder_id = ?, expires_at = ?
		WHERE name = ? AND (holder_id = ? OR expires_at < ?)
	`, holderID, expiry, lockName, holderID, now)
	if err != nil {
		return false, fmt.Errorf("failed to update daemon lock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}

// RenewLock extends the lock held by holderID. An error means the lock
// was lost (another daemon took over after expiry).
func (s *Store) RenewLock(ctx context.Context, holderID string, ttl time.Duration) error {
	expiry := time.Now().UTC().Add(ttl)
	res, err := s.db.ExecContext(ctx, `
		UPDATE daemon_lock SET expires_at = ? WHERE name = ? AND holder_id = ?
	`, expiry, lockName, holderID)
	if err != nil {
		return fmt.Errorf("failed to renew daemon lock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("daemon lock lost")
	}
	return nil
}

// ReleaseLock drops the lock if held by holderID.
func (s *Store) ReleaseLock(ctx context.Context, holderID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM daemon_lock WHERE name = ? AND holder_id = ?
	`, lockName, holderID)
	if err != nil {
		return fmt.Errorf("failed to release daemon lock: %w", err)
	}
	return nil
}
