// Package exchange composes full user snapshots for export and decomposes
// imported snapshots back into settings merges and history insertions.
package exchange

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/luma/internal/history"
	"github.com/kalambet/luma/internal/settings"
	"github.com/kalambet/luma/internal/storage"
)

// ErrMalformedSnapshot is returned when a snapshot's settings or history
// section does not conform to the expected shape. Individual malformed
// history items are skipped with a logged warning instead; partial historical
// data is more valuable than none.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// Snapshot is the export artifact: a timestamp, the resolved settings view,
// and the ordered transcript.
type Snapshot struct {
	ExportedAt  time.Time     `json:"exported_at"`
	ExportID    string        `json:"export_id"`
	Settings    settings.View `json:"settings"`
	ChatHistory []Message     `json:"chat_history"`
}

// Message is one transcript entry as it appears in a snapshot.
type Message struct {
	Role      string     `json:"role"`
	Message   string     `json:"message"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// RawSnapshot carries the sections of an imported snapshot undecoded, so that
// shape validation and per-item leniency are handled here rather than in the
// HTTP layer. Extra top-level keys (exported_at, export_id, user_id) are
// ignored.
type RawSnapshot struct {
	Settings    json.RawMessage `json:"settings"`
	ChatHistory json.RawMessage `json:"chat_history"`
}

// Exchanger wires the merge engine and history ledger into export/import
// operations sharing one transaction boundary.
type Exchanger struct {
	store  *storage.Store
	engine *settings.Engine
	ledger *history.Ledger
}

// NewExchanger creates an Exchanger over the given components.
func NewExchanger(store *storage.Store, engine *settings.Engine, ledger *history.Ledger) *Exchanger {
	return &Exchanger{store: store, engine: engine, ledger: ledger}
}

// Export builds a snapshot of userID's settings and transcript. It never
// fails for an unseen identifier: defaults are created lazily, yielding a
// default settings view and an empty history.
func (x *Exchanger) Export(ctx context.Context, userID string) (Snapshot, error) {
	if userID == "" {
		return Snapshot{}, settings.ErrEmptyUserID
	}

	var snap Snapshot
	err := x.store.Update(ctx, userID, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if err := x.store.EnsureUser(tx, userID, now); err != nil {
			return err
		}
		view, err := x.engine.ViewTx(tx, userID)
		if err != nil {
			return err
		}
		entries, err := x.store.ListHistory(tx, userID)
		if err != nil {
			return err
		}
		msgs := make([]Message, len(entries))
		for i, e := range entries {
			at := e.CreatedAt
			msgs[i] = Message{Role: e.Role, Message: e.Message, CreatedAt: &at}
		}
		snap = Snapshot{
			ExportedAt:  now,
			ExportID:    uuid.New().String(),
			Settings:    view,
			ChatHistory: msgs,
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Import applies a snapshot to userID inside one transaction: the settings
// section (if present) merges field-wise via the engine, and the history
// section (if present) is appended in the order given — after a full clear
// when replace is true. Items carrying their own created_at keep it;
// otherwise the current time is stamped. A failure rolls back both
// sub-operations.
func (x *Exchanger) Import(ctx context.Context, userID string, snap RawSnapshot, replace bool) error {
	if userID == "" {
		return settings.ErrEmptyUserID
	}

	var patch *settings.Patch
	if sectionPresent(snap.Settings) {
		patch = new(settings.Patch)
		if err := json.Unmarshal(snap.Settings, patch); err != nil {
			return fmt.Errorf("%w: settings section: %v", ErrMalformedSnapshot, err)
		}
		if err := patch.Validate(); err != nil {
			return err
		}
	}

	var items []json.RawMessage
	haveHistory := sectionPresent(snap.ChatHistory)
	if haveHistory {
		if err := json.Unmarshal(snap.ChatHistory, &items); err != nil {
			return fmt.Errorf("%w: chat_history section: %v", ErrMalformedSnapshot, err)
		}
	}

	return x.store.Update(ctx, userID, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if err := x.store.EnsureUser(tx, userID, now); err != nil {
			return err
		}

		if patch != nil {
			if err := x.engine.ApplyTx(tx, userID, *patch, now); err != nil {
				return err
			}
		}

		if !haveHistory {
			return nil
		}
		if replace {
			if _, err := x.ledger.ClearTx(tx, userID); err != nil {
				return err
			}
		}
		for i, raw := range items {
			var m Message
			if err := json.Unmarshal(raw, &m); err != nil {
				slog.Warn("skipping malformed history item", "user_id", userID, "index", i, "error", err)
				continue
			}
			role := m.Role
			if role == "" {
				role = storage.RoleUser
			}
			at := now
			if m.CreatedAt != nil {
				at = *m.CreatedAt
			}
			if _, err := x.ledger.AppendTx(tx, userID, role, m.Message, at); err != nil {
				if errors.Is(err, history.ErrInvalidRole) {
					slog.Warn("skipping history item with unknown role", "user_id", userID, "index", i, "role", role)
					continue
				}
				return err
			}
		}
		return nil
	})
}

// sectionPresent reports whether a raw section carries a value (absent keys
// and explicit nulls both count as missing).
func sectionPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
