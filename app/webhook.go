package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/damfello/bequ-15/apperr"
	"github.com/damfello/bequ-15/app/models"
)

const webhookBodyLimit = 1024 * 1024

const (
	eventCheckoutCompleted   = "checkout.session.completed"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
)

// WebhookHandler verifies billing events and reconciles them into the
// subscriptions table.
type WebhookHandler struct {
	secret  string
	billing Billing
	subs    SubscriptionStore
}

func NewWebhookHandler(secret string, billing Billing, subs SubscriptionStore) *WebhookHandler {
	return &WebhookHandler{
		secret:  strings.TrimSpace(secret),
		billing: billing,
		subs:    subs,
	}
}

// stripeID accepts either a bare id or an expanded object with an id.
type stripeID string

func (s *stripeID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = stripeID(strings.TrimSpace(v))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*s = stripeID(strings.TrimSpace(obj.ID))
	return nil
}

type checkoutSessionPayload struct {
	ClientReferenceID string   `json:"client_reference_id"`
	Customer          stripeID `json:"customer"`
	Subscription      stripeID `json:"subscription"`
}

type subscriptionPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Handle is the gin handler for POST /webhooks/billing.
func (h *WebhookHandler) Handle(c *gin.Context) {
	start := time.Now()
	eventType := "unknown"
	result := "processed"
	defer func() {
		WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
		WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	logger := zerolog.Ctx(c.Request.Context())

	if h.secret == "" {
		result = "config_error"
		respondError(c, apperr.Config("STRIPE_WEBHOOK_SECRET not set"))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		result = "bad_request"
		logger.Warn().Err(err).Msg("webhook body read failed")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, apperr.TooLarge("Webhook payload too large."))
			return
		}
		respondError(c, apperr.BadRequest("Webhook payload could not be read."))
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		result = "signature_error"
		logger.Warn().Msg("webhook missing Stripe-Signature header")
		respondError(c, apperr.BadRequest("Missing Stripe signature."))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		result = "signature_error"
		logger.Warn().Err(err).Msg("webhook signature verification failed")
		respondError(c, apperr.BadRequest("Webhook signature verification failed: "+err.Error()))
		return
	}
	eventType = string(event.Type)

	ctx := logger.With().Str("event_id", event.ID).Str("event_type", eventType).Logger().WithContext(c.Request.Context())
	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	outcome, err := h.dispatch(ctx, eventType, raw)
	if err != nil {
		result = "error"
		zerolog.Ctx(ctx).Error().Err(err).Msg("webhook processing failed")
		c.Abort()
		c.String(http.StatusInternalServerError, "Webhook handler processing error: "+err.Error())
		return
	}
	result = outcome

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// dispatch applies one verified event and reports the metric outcome.
func (h *WebhookHandler) dispatch(ctx context.Context, eventType string, raw json.RawMessage) (string, error) {
	switch eventType {
	case eventCheckoutCompleted:
		var sess checkoutSessionPayload
		if err := json.Unmarshal(raw, &sess); err != nil {
			return "", fmt.Errorf("decode checkout session: %w", err)
		}
		return h.handleCheckoutCompleted(ctx, sess)

	case eventSubscriptionUpdated:
		var sub subscriptionPayload
		if err := json.Unmarshal(raw, &sub); err != nil {
			return "", fmt.Errorf("decode subscription: %w", err)
		}
		return h.handleSubscriptionUpdated(ctx, sub, parsePeriodEnd(raw))

	case eventSubscriptionDeleted:
		var sub subscriptionPayload
		if err := json.Unmarshal(raw, &sub); err != nil {
			return "", fmt.Errorf("decode subscription: %w", err)
		}
		return h.handleSubscriptionDeleted(ctx, sub)

	default:
		zerolog.Ctx(ctx).Info().Msg("webhook ignored (unhandled type)")
		return "ignored", nil
	}
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, sess checkoutSessionPayload) (string, error) {
	logger := zerolog.Ctx(ctx)

	userID := strings.TrimSpace(sess.ClientReferenceID)
	customerID := string(sess.Customer)
	subscriptionID := string(sess.Subscription)
	if userID == "" || customerID == "" || subscriptionID == "" {
		return "", fmt.Errorf("missing data in checkout session: client_reference_id=%t customer=%t subscription=%t",
			userID != "", customerID != "", subscriptionID != "")
	}
	if h.billing == nil {
		return "", errors.New("billing client not configured")
	}

	sub, err := h.billing.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if sub.Status == models.StatusIncompleteExpired || sub.Status == models.StatusCanceled {
		logger.Info().Str("subscription_id", subscriptionID).Str("status", sub.Status).
			Msg("subscription ended before confirmation, not recording")
		return "skipped", nil
	}
	if sub.PriceID == "" {
		return "", fmt.Errorf("failed to retrieve price id for subscription %s", subscriptionID)
	}
	if sub.CurrentPeriodEnd == nil {
		logger.Warn().Str("subscription_id", subscriptionID).Msg("current_period_end missing, storing null")
	}

	rec := &models.Subscription{
		UserID:               userID,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: subscriptionID,
		StripePriceID:        sub.PriceID,
		Status:               sub.Status,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
	}
	if err := h.subs.UpsertSubscription(ctx, rec); err != nil {
		return "", err
	}
	logger.Info().Str("user_id", userID).Str("subscription_id", subscriptionID).Str("status", sub.Status).
		Msg("subscription recorded")
	return "processed", nil
}

func (h *WebhookHandler) handleSubscriptionUpdated(ctx context.Context, sub subscriptionPayload, periodEnd *time.Time) (string, error) {
	logger := zerolog.Ctx(ctx)
	if sub.ID == "" || sub.Status == "" {
		return "", errors.New("missing id or status in subscription")
	}
	if periodEnd == nil {
		logger.Warn().Str("subscription_id", sub.ID).Msg("current_period_end missing or not numeric, keeping stored value")
	}

	n, err := h.subs.UpdateSubscriptionStatus(ctx, sub.ID, sub.Status, periodEnd)
	if err != nil {
		return "", err
	}
	if n == 0 {
		logger.Warn().Str("subscription_id", sub.ID).Msg("no subscription row to update")
		return "no_match", nil
	}
	logger.Info().Str("subscription_id", sub.ID).Str("status", sub.Status).Msg("subscription updated")
	return "processed", nil
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, sub subscriptionPayload) (string, error) {
	logger := zerolog.Ctx(ctx)
	if sub.ID == "" || sub.Status == "" {
		return "", errors.New("missing id or status in subscription")
	}

	n, err := h.subs.UpdateSubscriptionStatus(ctx, sub.ID, sub.Status, nil)
	if err != nil {
		return "", err
	}
	if n == 0 {
		logger.Warn().Str("subscription_id", sub.ID).Msg("no subscription row to mark ended")
		return "no_match", nil
	}
	logger.Info().Str("subscription_id", sub.ID).Str("status", sub.Status).Msg("subscription status set")
	return "processed", nil
}

// parsePeriodEnd reads current_period_end from a subscription object,
// falling back to the first item for API versions that moved it there.
// A missing or non-numeric value yields nil.
func parsePeriodEnd(raw []byte) *time.Time {
	var obj struct {
		CurrentPeriodEnd json.RawMessage `json:"current_period_end"`
		Items            struct {
			Data []struct {
				CurrentPeriodEnd json.RawMessage `json:"current_period_end"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	if t := unixFromJSON(obj.CurrentPeriodEnd); t != nil {
		return t
	}
	if len(obj.Items.Data) > 0 {
		return unixFromJSON(obj.Items.Data[0].CurrentPeriodEnd)
	}
	return nil
}

func unixFromJSON(v json.RawMessage) *time.Time {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || (v[0] != '-' && (v[0] < '0' || v[0] > '9')) {
		return nil
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return nil
	}
	t := time.Unix(int64(f), 0).UTC()
	return &t
}
