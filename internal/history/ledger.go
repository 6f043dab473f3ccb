// Package history maintains each user's append-only chat transcript. Entries
// are immutable once written; the only destructive operation is a full clear
// for one user.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/luma/internal/storage"
)

// ErrInvalidRole is returned when an appended entry carries a role outside
// {user, assistant}.
var ErrInvalidRole = errors.New("invalid role")

// Ledger appends, clears, and reads one user's transcript. Sequence numbers
// come from the store, increase monotonically per user, and are never reused
// — after a clear, new entries continue from where the old sequence left off.
type Ledger struct {
	store *storage.Store
}

// NewLedger creates a Ledger backed by store.
func NewLedger(store *storage.Store) *Ledger {
	return &Ledger{store: store}
}

// Append stores one message stamped with the current time and returns the
// sequence number assigned to it. The message may be empty; the user is
// lazily created if unseen.
func (l *Ledger) Append(ctx context.Context, userID, role, message string) (int64, error) {
	var seq int64
	err := l.store.Update(ctx, userID, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if err := l.store.EnsureUser(tx, userID, now); err != nil {
			return err
		}
		n, err := l.AppendTx(tx, userID, role, message, now)
		if err != nil {
			return err
		}
		seq = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// AppendTx inserts one entry within an existing transaction. Used by Append
// and by snapshot import, which supplies the entry's own timestamp when the
// snapshot carries one.
func (l *Ledger) AppendTx(tx *sql.Tx, userID, role, message string, at time.Time) (int64, error) {
	if role != storage.RoleUser && role != storage.RoleAssistant {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return l.store.InsertHistory(tx, storage.HistoryEntry{
		UserID:    userID,
		Role:      role,
		Message:   message,
		CreatedAt: at,
	})
}

// Clear removes every entry for userID and returns the count removed (0 if
// none existed). Profile and settings are untouched.
func (l *Ledger) Clear(ctx context.Context, userID string) (int64, error) {
	var removed int64
	err := l.store.Update(ctx, userID, func(tx *sql.Tx) error {
		n, err := l.store.DeleteHistory(tx, userID)
		if err != nil {
			return err
		}
		removed = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ClearTx removes every entry for userID within an existing transaction.
func (l *Ledger) ClearTx(tx *sql.Tx, userID string) (int64, error) {
	return l.store.DeleteHistory(tx, userID)
}

// ReadAll returns userID's entries strictly ordered by ascending sequence
// number; an empty slice if none exist.
func (l *Ledger) ReadAll(ctx context.Context, userID string) ([]storage.HistoryEntry, error) {
	var entries []storage.HistoryEntry
	err := l.store.View(ctx, userID, func(tx *sql.Tx) error {
		es, err := l.store.ListHistory(tx, userID)
		if err != nil {
			return err
		}
		entries = es
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
