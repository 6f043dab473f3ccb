package settings

import (
	"time"

	"github.com/kalambet/luma/internal/storage"
)

// View is the merged profile+settings record returned to callers. Field names
// are the wire contract and must not change.
type View struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`

	ThemeMode             string    `json:"theme_mode"`
	DarkMode              bool      `json:"dark_mode"`
	NotificationsEnabled  bool      `json:"notifications_enabled"`
	ChatNotifications     bool      `json:"chat_notifications"`
	UpdateNotifications   bool      `json:"update_notifications"`
	ReminderNotifications bool      `json:"reminder_notifications"`
	Language              string    `json:"language"`
	BiometricLock         bool      `json:"biometric_lock"`
	AppVersion            string    `json:"app_version"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func makeView(p storage.Profile, st storage.Settings) View {
	return View{
		UserID:                p.UserID,
		Name:                  p.Name,
		Email:                 p.Email,
		AvatarURL:             p.AvatarURL,
		ThemeMode:             st.ThemeMode,
		DarkMode:              st.DarkMode,
		NotificationsEnabled:  st.NotificationsEnabled,
		ChatNotifications:     st.ChatNotifications,
		UpdateNotifications:   st.UpdateNotifications,
		ReminderNotifications: st.ReminderNotifications,
		Language:              st.Language,
		BiometricLock:         st.BiometricLock,
		AppVersion:            st.AppVersion,
		UpdatedAt:             st.UpdatedAt,
	}
}
