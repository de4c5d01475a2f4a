package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/damfello/bequ-15/app/models"
)

// CheckoutInput describes the checkout session to create.
type CheckoutInput struct {
	UserID                  string
	Email                   string
	PriceID                 string
	SuccessURL              string
	CancelURL               string
	TrialPeriodDays         int64
	PaymentMethodCollection string
}

// Billing is the slice of the payment processor the handlers use.
type Billing interface {
	CreateCheckoutSession(ctx context.Context, in CheckoutInput) (string, error)
	GetSubscription(ctx context.Context, id string) (*models.BillingSubscription, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// StripeBilling implements Billing with a per-instance Stripe client.
type StripeBilling struct {
	sc         *client.API
	retryDelay time.Duration
}

// NewStripeBilling builds a client for secretKey. The library's own network
// retries are disabled so that session creation is attempted exactly once.
func NewStripeBilling(secretKey string, timeout time.Duration) *StripeBilling {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpc := &http.Client{Timeout: timeout}
	cfg := func() *stripe.BackendConfig {
		return &stripe.BackendConfig{
			HTTPClient:        httpc,
			MaxNetworkRetries: stripe.Int64(0),
		}
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg()),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg()),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg()),
	}
	return &StripeBilling{
		sc:         client.New(secretKey, backends),
		retryDelay: 300 * time.Millisecond,
	}
}

// CreateCheckoutSession starts a subscription-mode Checkout Session and returns its id.
func (b *StripeBilling) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID:   stripe.String(in.UserID),
		SuccessURL:          stripe.String(in.SuccessURL),
		CancelURL:           stripe.String(in.CancelURL),
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.Context = ctx
	if in.Email != "" {
		params.CustomerEmail = stripe.String(in.Email)
	}
	if in.PaymentMethodCollection != "" {
		params.PaymentMethodCollection = stripe.String(in.PaymentMethodCollection)
	}
	if in.TrialPeriodDays > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(in.TrialPeriodDays),
		}
	}

	sess, err := b.sc.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.ID, nil
}

// GetSubscription fetches a subscription by id, retrying once on a
// transient failure.
func (b *StripeBilling) GetSubscription(ctx context.Context, id string) (*models.BillingSubscription, error) {
	var sub *stripe.Subscription
	backoff := retry.WithMaxRetries(1, retry.NewConstant(b.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		s, err := b.sc.Subscriptions.Get(id, params)
		if err != nil {
			if transientStripeError(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, err)
	}
	return billingSubscriptionFrom(sub), nil
}

// CreatePortalSession creates a customer portal session and returns its URL.
func (b *StripeBilling) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := b.sc.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

func transientStripeError(err error) bool {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return serr.HTTPStatusCode == 0 || serr.HTTPStatusCode == http.StatusTooManyRequests || serr.HTTPStatusCode >= 500
	}
	return true
}

func billingSubscriptionFrom(sub *stripe.Subscription) *models.BillingSubscription {
	out := &models.BillingSubscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = strings.TrimSpace(sub.Items.Data[0].Price.ID)
	}
	switch {
	case sub.CurrentPeriodEnd > 0:
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &t
	case sub.LastResponse != nil:
		out.CurrentPeriodEnd = parsePeriodEnd(sub.LastResponse.RawJSON)
	}
	return out
}
