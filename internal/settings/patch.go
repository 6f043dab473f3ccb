package settings

import (
	"errors"
	"fmt"

	validator "github.com/go-playground/validator/v10"
)

// ErrInvalidField is returned when a recognized patch field carries a value
// outside its declared type or enum.
var ErrInvalidField = errors.New("invalid field value")

// Patch is a partial field-set. A nil pointer means the field was absent from
// the request and the stored value must be kept; unknown JSON keys are dropped
// by the decoder rather than rejected. Pointers replace the empty-string/-1
// sentinels the storage format would otherwise need, so "unset" can never
// collide with a legitimate empty value.
type Patch struct {
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	AvatarURL *string `json:"avatar_url"`

	ThemeMode             *string `json:"theme_mode" validate:"omitempty,oneof=System Light Dark"`
	DarkMode              *bool   `json:"dark_mode"`
	NotificationsEnabled  *bool   `json:"notifications_enabled"`
	ChatNotifications     *bool   `json:"chat_notifications"`
	UpdateNotifications   *bool   `json:"update_notifications"`
	ReminderNotifications *bool   `json:"reminder_notifications"`
	Language              *string `json:"language"`
	BiometricLock         *bool   `json:"biometric_lock"`
	AppVersion            *string `json:"app_version"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every present field against its declared enum.
func (p Patch) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	return nil
}

// touchesProfile reports whether the patch carries any profile sub-field.
func (p Patch) touchesProfile() bool {
	return p.Name != nil || p.Email != nil || p.AvatarURL != nil
}
