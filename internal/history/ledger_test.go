package history

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/luma/internal/storage"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewLedger(s)
}

func TestAppendAssignsIncreasingSequence(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	var prev int64
	for i, msg := range []string{"hello", "hi there", "how are you"} {
		role := storage.RoleUser
		if i%2 == 1 {
			role = storage.RoleAssistant
		}
		seq, err := l.Append(ctx, "u1", role, msg)
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if seq <= prev {
			t.Fatalf("seq = %d, want > %d", seq, prev)
		}
		prev = seq
	}

	entries, err := l.ReadAll(ctx, "u1")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Message != "hello" || entries[2].Message != "how are you" {
		t.Errorf("entries out of append order: %+v", entries)
	}
}

func TestAppendInvalidRole(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Append(context.Background(), "u1", "system", "nope")
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("err = %v, want ErrInvalidRole", err)
	}
}

func TestAppendEmptyMessage(t *testing.T) {
	l := newTestLedger(t)

	if _, err := l.Append(context.Background(), "u1", storage.RoleUser, ""); err != nil {
		t.Fatalf("Append with empty message: %v", err)
	}
	entries, err := l.ReadAll(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "" {
		t.Errorf("entries = %+v, want one empty message", entries)
	}
}

// TestClearDoesNotResetSequence: sequence numbers are never reused, so the
// first entry after a clear continues past the cleared ones.
func TestClearDoesNotResetSequence(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		seq, err := l.Append(ctx, "u1", storage.RoleUser, "m")
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		last = seq
	}

	removed, err := l.Clear(ctx, "u1")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	seq, err := l.Append(ctx, "u1", storage.RoleUser, "after clear")
	if err != nil {
		t.Fatalf("Append after clear: %v", err)
	}
	if seq <= last {
		t.Errorf("seq = %d after clear, want > %d", seq, last)
	}
}

func TestClearUnseenUser(t *testing.T) {
	l := newTestLedger(t)

	removed, err := l.Clear(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestReadAllIsolatedPerUser(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Append(ctx, "u1", storage.RoleUser, "mine"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := l.Append(ctx, "u2", storage.RoleUser, "theirs"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := l.ReadAll(ctx, "u1")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "mine" {
		t.Errorf("u1 entries = %+v, want only its own", entries)
	}
}
