package settings

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kalambet/luma/internal/storage"
)

// ErrEmptyUserID is returned when an operation is called without an identifier.
var ErrEmptyUserID = errors.New("user id must not be empty")

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Engine reconciles partial field-sets against the stored record: present
// fields overwrite, absent fields are kept, and updated_at is rewritten on
// every apply even when nothing else changed.
type Engine struct {
	store *storage.Store
	clock Clock
}

// NewEngine creates an Engine backed by store.
func NewEngine(store *storage.Store) *Engine {
	return &Engine{store: store, clock: realClock{}}
}

// NewEngineWithClock creates an Engine with a custom clock (for testing).
func NewEngineWithClock(store *storage.Store, clock Clock) *Engine {
	return &Engine{store: store, clock: clock}
}

// Apply merges p into userID's stored record inside one transaction and
// returns the fully resolved view. Unseen identifiers are created with
// defaults first.
func (e *Engine) Apply(ctx context.Context, userID string, p Patch) (View, error) {
	if userID == "" {
		return View{}, ErrEmptyUserID
	}
	if err := p.Validate(); err != nil {
		return View{}, err
	}

	var view View
	err := e.store.Update(ctx, userID, func(tx *sql.Tx) error {
		if err := e.ApplyTx(tx, userID, p, e.clock.Now().UTC()); err != nil {
			return err
		}
		v, err := e.viewTx(tx, userID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return view, nil
}

// ApplyTx performs the merge within an existing transaction. Used by Apply
// and by snapshot import, which wraps the settings merge and the history
// insertion in one outer transaction.
func (e *Engine) ApplyTx(tx *sql.Tx, userID string, p Patch, now time.Time) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := e.store.EnsureUser(tx, userID, now); err != nil {
		return err
	}

	cur, err := e.store.GetSettings(tx, userID)
	if err != nil {
		return err
	}
	next := merge(cur, p)
	next.UpdatedAt = now
	if err := e.store.PutSettings(tx, next); err != nil {
		return err
	}

	if p.touchesProfile() {
		if err := e.store.UpdateProfile(tx, userID, p.Name, p.Email, p.AvatarURL); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the resolved view for userID, creating the default record first
// if the identifier has never been seen.
func (e *Engine) Get(ctx context.Context, userID string) (View, error) {
	if userID == "" {
		return View{}, ErrEmptyUserID
	}

	var view View
	// Update, not View: the first read of an unseen identifier writes the
	// default rows.
	err := e.store.Update(ctx, userID, func(tx *sql.Tx) error {
		if err := e.store.EnsureUser(tx, userID, e.clock.Now().UTC()); err != nil {
			return err
		}
		v, err := e.viewTx(tx, userID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return view, nil
}

// ViewTx assembles the resolved view within an existing transaction. The rows
// must exist (EnsureUser ran earlier in the same transaction).
func (e *Engine) ViewTx(tx *sql.Tx, userID string) (View, error) {
	return e.viewTx(tx, userID)
}

func (e *Engine) viewTx(tx *sql.Tx, userID string) (View, error) {
	prof, err := e.store.GetProfile(tx, userID)
	if err != nil {
		return View{}, err
	}
	st, err := e.store.GetSettings(tx, userID)
	if err != nil {
		return View{}, err
	}
	return makeView(prof, st), nil
}

// merge overlays the present fields of p onto cur. theme_mode overrides any
// dark_mode in the same patch: the derived flag must equal
// (theme_mode == Dark) after every write that touches the theme. A patch that
// sets dark_mode alone leaves theme_mode as-is, so the two can disagree until
// the next theme write; that is the documented caller contract.
func merge(cur storage.Settings, p Patch) storage.Settings {
	next := cur
	if p.DarkMode != nil {
		next.DarkMode = *p.DarkMode
	}
	if p.ThemeMode != nil {
		next.ThemeMode = *p.ThemeMode
		next.DarkMode = *p.ThemeMode == storage.ThemeDark
	}
	if p.NotificationsEnabled != nil {
		next.NotificationsEnabled = *p.NotificationsEnabled
	}
	if p.ChatNotifications != nil {
		next.ChatNotifications = *p.ChatNotifications
	}
	if p.UpdateNotifications != nil {
		next.UpdateNotifications = *p.UpdateNotifications
	}
	if p.ReminderNotifications != nil {
		next.ReminderNotifications = *p.ReminderNotifications
	}
	if p.Language != nil {
		next.Language = *p.Language
	}
	if p.BiometricLock != nil {
		next.BiometricLock = *p.BiometricLock
	}
	if p.AppVersion != nil {
		next.AppVersion = *p.AppVersion
	}
	return next
}
