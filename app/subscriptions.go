package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/damfello/bequ-15/app/models"
)

// SubscriptionStore reads and writes subscription records.
type SubscriptionStore interface {
	HasEntitledSubscription(ctx context.Context, userID string) (bool, error)
	CustomerIDForUser(ctx context.Context, userID string) (string, error)
	LatestSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscriptionStatus(ctx context.Context, stripeSubscriptionID, status string, periodEnd *time.Time) (int64, error)
}

const subscriptionColumns = `id, user_id, stripe_customer_id, stripe_subscription_id, stripe_price_id,
	stripe_subscription_status, current_period_end, created_at, updated_at`

// HasEntitledSubscription reports whether the user holds at least one
// subscription in an entitling status.
func (s *Store) HasEntitledSubscription(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, `
		SELECT EXISTS (
			SELECT 1
			FROM subscriptions
			WHERE user_id = $1
			  AND stripe_subscription_status = ANY($2)
		);
	`, userID, pq.Array(models.EntitledStatuses))
	if err != nil {
		return false, fmt.Errorf("query entitlement: %w", err)
	}
	return ok, nil
}

// CustomerIDForUser returns the processor customer id from the user's most
// recent subscription, or ErrNotFound.
func (s *Store) CustomerIDForUser(ctx context.Context, userID string) (string, error) {
	var customerID sql.NullString
	err := s.db.GetContext(ctx, &customerID, `
		SELECT stripe_customer_id
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1;
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query customer id: %w", err)
	}
	if !customerID.Valid || customerID.String == "" {
		return "", ErrNotFound
	}
	return customerID.String, nil
}

// LatestSubscription returns the user's most recent subscription, or ErrNotFound.
func (s *Store) LatestSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1;
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription: %w", err)
	}
	return &sub, nil
}

// UpsertSubscription writes sub keyed by its processor subscription id. A
// redelivered checkout converges on the same row. A null period end never
// overwrites a stored one.
func (s *Store) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	return s.WithTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, `
			INSERT INTO subscriptions (
				user_id, stripe_customer_id, stripe_subscription_id, stripe_price_id,
				stripe_subscription_status, current_period_end
			)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (stripe_subscription_id) DO UPDATE SET
				stripe_customer_id         = EXCLUDED.stripe_customer_id,
				stripe_price_id            = EXCLUDED.stripe_price_id,
				stripe_subscription_status = EXCLUDED.stripe_subscription_status,
				current_period_end         = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
				updated_at                 = now()
			RETURNING id, created_at, updated_at;
		`,
			sub.UserID,
			sub.StripeCustomerID,
			sub.StripeSubscriptionID,
			sub.StripePriceID,
			sub.Status,
			sub.CurrentPeriodEnd,
		)
		if err := row.Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return fmt.Errorf("upsert subscription: %w", err)
		}
		return nil
	})
}

// UpdateSubscriptionStatus sets the status of the row with the given
// processor subscription id. A nil periodEnd keeps the stored value. It
// returns the number of rows matched.
func (s *Store) UpdateSubscriptionStatus(ctx context.Context, stripeSubscriptionID, status string, periodEnd *time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET
			stripe_subscription_status = $2,
			current_period_end         = COALESCE($3, current_period_end),
			updated_at                 = now()
		WHERE stripe_subscription_id = $1;
	`, stripeSubscriptionID, status, periodEnd)
	if err != nil {
		return 0, fmt.Errorf("update subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
