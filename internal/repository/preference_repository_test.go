package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presencepro/platform/internal/models"
)

func newPreferenceRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPreferenceRepositoryFind(t *testing.T) {
	db, mock, cleanup := newPreferenceRepoMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	rows := sqlmock.NewRows([]string{"recipient", "email_enabled", "sms_enabled", "push_enabled", "digest_enabled", "created_at", "updated_at"}).
		AddRow("parent@example.com", true, false, true, true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT recipient, email_enabled, sms_enabled, push_enabled, digest_enabled, created_at, updated_at FROM user_notification_preferences WHERE recipient = $1 LIMIT 1")).
		WithArgs("parent@example.com").
		WillReturnRows(rows)

	pref, err := repo.Find(context.Background(), "parent@example.com")
	require.NoError(t, err)
	assert.True(t, pref.EmailEnabled)
	assert.False(t, pref.SMSEnabled)
	assert.True(t, pref.DigestEnabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceRepositoryFindMissingReturnsErrNoRows(t *testing.T) {
	db, mock, cleanup := newPreferenceRepoMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM user_notification_preferences").
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newPreferenceRepoMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	mock.ExpectExec("INSERT INTO user_notification_preferences").
		WillReturnResult(sqlmock.NewResult(1, 1))

	pref := &models.NotificationPreference{Recipient: "parent@example.com", EmailEnabled: true}
	require.NoError(t, repo.Upsert(context.Background(), pref))
	assert.False(t, pref.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferenceRepositoryDigestRecipients(t *testing.T) {
	db, mock, cleanup := newPreferenceRepoMock(t)
	defer cleanup()
	repo := NewPreferenceRepository(db)

	rows := sqlmock.NewRows([]string{"recipient", "email_enabled", "sms_enabled", "push_enabled", "digest_enabled", "created_at", "updated_at"}).
		AddRow("a@example.com", true, true, true, true, time.Now(), time.Now()).
		AddRow("b@example.com", true, false, true, true, time.Now(), time.Now())
	mock.ExpectQuery("SELECT (.+) FROM user_notification_preferences WHERE digest_enabled = TRUE").
		WillReturnRows(rows)

	prefs, err := repo.DigestRecipients(context.Background())
	require.NoError(t, err)
	assert.Len(t, prefs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
