// Package models defines subscription and chat records.
package models

import "time"

// Subscription statuses the synchronizer and gate care about.
const (
	StatusActive            = "active"
	StatusTrialing          = "trialing"
	StatusCanceled          = "canceled"
	StatusIncompleteExpired = "incomplete_expired"
)

// EntitledStatuses is the set of statuses that grant access.
var EntitledStatuses = []string{StatusActive, StatusTrialing}

type Subscription struct {
	ID                   int64      `db:"id" json:"id"`
	UserID               string     `db:"user_id" json:"user_id"`
	StripeCustomerID     string     `db:"stripe_customer_id" json:"stripe_customer_id"`
	StripeSubscriptionID string     `db:"stripe_subscription_id" json:"stripe_subscription_id"`
	StripePriceID        string     `db:"stripe_price_id" json:"stripe_price_id"`
	Status               string     `db:"stripe_subscription_status" json:"stripe_subscription_status"`
	CurrentPeriodEnd     *time.Time `db:"current_period_end" json:"current_period_end"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// BillingSubscription is the slice of a processor subscription the synchronizer needs.
type BillingSubscription struct {
	ID               string
	CustomerID       string
	Status           string
	PriceID          string
	CurrentPeriodEnd *time.Time
}
