package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
)

const subscriptionColumns = "id, email, preferences, is_active, unsubscribe_token, created_at, verified_at"

type subscriptionRow struct {
	ID               int                      `db:"id"`
	Email            string                   `db:"email"`
	Preferences      notification.Preferences `db:"preferences"`
	IsActive         bool                     `db:"is_active"`
	UnsubscribeToken string                   `db:"unsubscribe_token"`
	CreatedAt        time.Time                `db:"created_at"`
	VerifiedAt       null.Time                `db:"verified_at"`
}

func (row subscriptionRow) toSubscription() notification.Subscription {
	return notification.Subscription{
		ID:               row.ID,
		Email:            row.Email,
		Preferences:      row.Preferences,
		IsActive:         row.IsActive,
		UnsubscribeToken: row.UnsubscribeToken,
		CreatedAt:        row.CreatedAt.UTC(),
		VerifiedAt:       row.VerifiedAt.Ptr(),
	}
}

type subscriptionRepository struct {
	db sqlx.ExtContext
}

var _ notification.SubscriptionRepository = (*subscriptionRepository)(nil) // interface compliance check

func NewSubscriptionRepository(db sqlx.ExtContext) *subscriptionRepository {
	return &subscriptionRepository{db: db}
}

// getOne runs a single-row query; no row maps to a NotFoundError.
func (repo subscriptionRepository) getOne(ctx context.Context, msg, q string, args ...interface{}) (notification.Subscription, error) {
	var row subscriptionRow
	if err := sqlx.GetContext(ctx, repo.db, &row, q, args...); err != nil {
		if err == sql.ErrNoRows {
			return notification.Subscription{}, core.NewNotFoundError("subscription")
		}
		return notification.Subscription{}, errors.Wrap(err, msg)
	}
	return row.toSubscription(), nil
}

func (repo subscriptionRepository) UpsertSubscription(ctx context.Context, sub notification.Subscription) (notification.Subscription, error) {
	// concurrent subscribes for one email are serialized by the unique index
	q := `INSERT INTO email_subscriptions (email, preferences, is_active, unsubscribe_token)
		VALUES ($1, $2, true, $3)
		ON CONFLICT (email) DO UPDATE SET
			preferences = EXCLUDED.preferences,
			is_active = true,
			unsubscribe_token = EXCLUDED.unsubscribe_token
		RETURNING ` + subscriptionColumns
	return repo.getOne(ctx, "upserting subscription", q, sub.Email, sub.Preferences, sub.UnsubscribeToken)
}

func (repo subscriptionRepository) GetSubscriptionByToken(ctx context.Context, token string) (notification.Subscription, error) {
	q := "SELECT " + subscriptionColumns + " FROM email_subscriptions WHERE unsubscribe_token = $1"
	return repo.getOne(ctx, "selecting subscription", q, token)
}

func (repo subscriptionRepository) DeactivateSubscriptionByToken(ctx context.Context, token string) (notification.Subscription, error) {
	q := "UPDATE email_subscriptions SET is_active = false WHERE unsubscribe_token = $1 RETURNING " + subscriptionColumns
	return repo.getOne(ctx, "deactivating subscription", q, token)
}

func (repo subscriptionRepository) DeactivateSubscriptionByEmail(ctx context.Context, email string) (notification.Subscription, error) {
	q := "UPDATE email_subscriptions SET is_active = false WHERE email = $1 RETURNING " + subscriptionColumns
	return repo.getOne(ctx, "deactivating subscription", q, email)
}

func (repo subscriptionRepository) UpdateSubscriptionPreferences(
	ctx context.Context,
	token string,
	prefs notification.Preferences,
) (notification.Subscription, error) {
	q := "UPDATE email_subscriptions SET preferences = $2 WHERE unsubscribe_token = $1 RETURNING " + subscriptionColumns
	return repo.getOne(ctx, "updating subscription preferences", q, token, prefs)
}

func (repo subscriptionRepository) ListActiveSubscriptions(ctx context.Context) ([]notification.Subscription, error) {
	var rows []subscriptionRow
	q := "SELECT " + subscriptionColumns + " FROM email_subscriptions WHERE is_active = true ORDER BY id"
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q); err != nil {
		return nil, errors.Wrap(err, "selecting active subscriptions")
	}
	subs := make([]notification.Subscription, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, row.toSubscription())
	}
	return subs, nil
}
