package models

import "time"

// NotificationPreference controls which channels a recipient accepts and
// whether a daily digest is compiled for them. A missing row means every
// channel is enabled and the digest is off.
type NotificationPreference struct {
	Recipient     string    `db:"recipient" json:"recipient"`
	EmailEnabled  bool      `db:"email_enabled" json:"email_enabled"`
	SMSEnabled    bool      `db:"sms_enabled" json:"sms_enabled"`
	PushEnabled   bool      `db:"push_enabled" json:"push_enabled"`
	DigestEnabled bool      `db:"digest_enabled" json:"digest_enabled"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Allows reports whether the preference permits delivery on a channel.
func (p *NotificationPreference) Allows(channel Channel) bool {
	if p == nil {
		return true
	}
	switch channel {
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelSMS:
		return p.SMSEnabled
	case ChannelPush:
		return p.PushEnabled
	}
	return false
}
