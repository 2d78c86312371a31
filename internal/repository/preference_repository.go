package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/presencepro/platform/internal/models"
)

// PreferenceRepository provides database access for notification preferences.
type PreferenceRepository struct {
	db *sqlx.DB
}

// NewPreferenceRepository creates a new instance of PreferenceRepository.
func NewPreferenceRepository(db *sqlx.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Find returns the preference row for a recipient. Callers treat
// sql.ErrNoRows as "all channels enabled, digest off".
func (r *PreferenceRepository) Find(ctx context.Context, recipient string) (*models.NotificationPreference, error) {
	const query = `SELECT recipient, email_enabled, sms_enabled, push_enabled, digest_enabled, created_at, updated_at FROM user_notification_preferences WHERE recipient = $1 LIMIT 1`
	var pref models.NotificationPreference
	if err := r.db.GetContext(ctx, &pref, query, recipient); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find preference: %w", err)
	}
	return &pref, nil
}

// Upsert stores the preference row for a recipient.
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *models.NotificationPreference) error {
	now := time.Now().UTC()
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now

	const query = `INSERT INTO user_notification_preferences (recipient, email_enabled, sms_enabled, push_enabled, digest_enabled, created_at, updated_at)
		VALUES (:recipient, :email_enabled, :sms_enabled, :push_enabled, :digest_enabled, :created_at, :updated_at)
		ON CONFLICT (recipient) DO UPDATE SET email_enabled = EXCLUDED.email_enabled, sms_enabled = EXCLUDED.sms_enabled, push_enabled = EXCLUDED.push_enabled, digest_enabled = EXCLUDED.digest_enabled, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, pref); err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

// DigestRecipients returns all recipients with the digest preference enabled.
func (r *PreferenceRepository) DigestRecipients(ctx context.Context) ([]models.NotificationPreference, error) {
	const query = `SELECT recipient, email_enabled, sms_enabled, push_enabled, digest_enabled, created_at, updated_at FROM user_notification_preferences WHERE digest_enabled = TRUE ORDER BY recipient`
	var prefs []models.NotificationPreference
	if err := r.db.SelectContext(ctx, &prefs, query); err != nil {
		return nil, fmt.Errorf("list digest recipients: %w", err)
	}
	return prefs, nil
}
