package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Theme modes accepted on the wire. Stored verbatim in the settings table.
const (
	ThemeSystem = "System"
	ThemeLight  = "Light"
	ThemeDark   = "Dark"
)

// Chat roles accepted on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Profile is the per-user identity record. CreatedAt is set when the row is
// first created and never mutated afterwards.
type Profile struct {
	UserID    string
	Name      string
	Email     string
	AvatarURL string
	CreatedAt time.Time
}

// Settings holds one row per user. DarkMode mirrors ThemeMode == ThemeDark
// after any write that touches the theme; writes that set DarkMode alone
// leave ThemeMode as-is.
type Settings struct {
	UserID                string
	ThemeMode             string
	DarkMode              bool
	NotificationsEnabled  bool
	ChatNotifications     bool
	UpdateNotifications   bool
	ReminderNotifications bool
	Language              string
	BiometricLock         bool
	AppVersion            string
	UpdatedAt             time.Time
}

// HistoryEntry is one message in a user's append-only chat transcript.
// Seq is assigned by the store, increases monotonically per user, and is
// never reused.
type HistoryEntry struct {
	Seq       int64
	UserID    string
	Role      string
	Message   string
	CreatedAt time.Time
}

// DefaultSettings returns the settings record a user gets on first reference.
func DefaultSettings(userID string, now time.Time) Settings {
	return Settings{
		UserID:                userID,
		ThemeMode:             ThemeSystem,
		DarkMode:              false,
		NotificationsEnabled:  true,
		ChatNotifications:     true,
		UpdateNotifications:   true,
		ReminderNotifications: false,
		Language:              "English",
		BiometricLock:         false,
		AppVersion:            "1.0.0",
		UpdatedAt:             now,
	}
}

// DefaultProfile returns the placeholder profile created on first reference.
func DefaultProfile(userID string, now time.Time) Profile {
	return Profile{
		UserID:    userID,
		Name:      "User Name",
		Email:     "user@example.com",
		AvatarURL: "",
		CreatedAt: now,
	}
}
