package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/damfello/bequ-15/app/config"
	"github.com/damfello/bequ-15/app/models"
	"github.com/damfello/bequ-15/apperr"
	"github.com/damfello/bequ-15/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// tokenVerifier maps bearer tokens to user ids.
type tokenVerifier map[string]string

func (v tokenVerifier) Verify(_ context.Context, token string) (*auth.Claims, error) {
	id, ok := v[token]
	if !ok {
		return nil, apperr.Unauthenticated("Invalid or expired token.")
	}
	return &auth.Claims{Subject: id, Email: id + "@example.com"}, nil
}

type fakeSubs struct {
	mu          sync.Mutex
	rows        map[string]*models.Subscription // keyed by stripe subscription id
	nextID      int64
	entitledErr error
	upserts     int
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{rows: map[string]*models.Subscription{}}
}

func (f *fakeSubs) add(sub models.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub.ID = f.nextID
	sub.CreatedAt = time.Unix(1700000000+f.nextID, 0).UTC()
	f.rows[sub.StripeSubscriptionID] = &sub
}

func (f *fakeSubs) HasEntitledSubscription(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entitledErr != nil {
		return false, f.entitledErr
	}
	for _, r := range f.rows {
		if r.UserID == userID && (r.Status == models.StatusActive || r.Status == models.StatusTrialing) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSubs) latest(userID string) *models.Subscription {
	var out *models.Subscription
	for _, r := range f.rows {
		if r.UserID == userID && (out == nil || r.ID > out.ID) {
			out = r
		}
	}
	return out
}

func (f *fakeSubs) CustomerIDForUser(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.latest(userID); r != nil && r.StripeCustomerID != "" {
		return r.StripeCustomerID, nil
	}
	return "", ErrNotFound
}

func (f *fakeSubs) LatestSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.latest(userID); r != nil {
		cp := *r
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (f *fakeSubs) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if existing, ok := f.rows[sub.StripeSubscriptionID]; ok {
		existing.StripeCustomerID = sub.StripeCustomerID
		existing.StripePriceID = sub.StripePriceID
		existing.Status = sub.Status
		if sub.CurrentPeriodEnd != nil {
			existing.CurrentPeriodEnd = sub.CurrentPeriodEnd
		}
		sub.ID = existing.ID
		return nil
	}
	f.nextID++
	cp := *sub
	cp.ID = f.nextID
	f.rows[sub.StripeSubscriptionID] = &cp
	sub.ID = cp.ID
	return nil
}

func (f *fakeSubs) UpdateSubscriptionStatus(_ context.Context, id, status string, periodEnd *time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return 0, nil
	}
	r.Status = status
	if periodEnd != nil {
		r.CurrentPeriodEnd = periodEnd
	}
	return 1, nil
}

func (f *fakeSubs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeChats struct {
	mu     sync.Mutex
	rows   []models.ChatMessage
	nextID int64
}

func (f *fakeChats) InsertChatMessage(_ context.Context, userID, sessionID string, body models.MessageBody) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.rows = append(f.rows, models.ChatMessage{
		ID:        f.nextID,
		UserID:    userID,
		SessionID: sessionID,
		Message:   body,
		CreatedAt: time.Unix(1700000000+f.nextID, 0).UTC(),
	})
	return nil
}

func (f *fakeChats) ListChatMessages(_ context.Context, userID, sessionID string) ([]models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.ChatMessage{}
	for _, r := range f.rows {
		if r.UserID == userID && (sessionID == "" || r.SessionID == sessionID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeChats) DeleteChatMessages(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rows[:0]
	var n int64
	for _, r := range f.rows {
		if r.UserID == userID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return n, nil
}

func (f *fakeChats) forUser(userID string) []models.ChatMessage {
	out, _ := f.ListChatMessages(context.Background(), userID, "")
	return out
}

type fakeBilling struct {
	checkoutCalls []CheckoutInput
	checkoutErr   error
	subs          map[string]*models.BillingSubscription
	getErr        error
	portalCalls   []string
}

func (f *fakeBilling) CreateCheckoutSession(_ context.Context, in CheckoutInput) (string, error) {
	f.checkoutCalls = append(f.checkoutCalls, in)
	if f.checkoutErr != nil {
		return "", f.checkoutErr
	}
	return "cs_test_123", nil
}

func (f *fakeBilling) GetSubscription(_ context.Context, id string) (*models.BillingSubscription, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, errors.New("no such subscription: " + id)
	}
	return sub, nil
}

func (f *fakeBilling) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	f.portalCalls = append(f.portalCalls, customerID+" "+returnURL)
	return "https://billing.stripe.com/p/session_1", nil
}

type fakeEngine struct {
	output string
	err    error
	calls  int
}

func (f *fakeEngine) Reply(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.output, f.err
}

type testEnv struct {
	server  *Server
	router  *gin.Engine
	subs    *fakeSubs
	chats   *fakeChats
	billing *fakeBilling
	engine  *fakeEngine
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{PublicURL: "https://bequ.example"},
		Stripe: config.StripeConfig{
			SecretKey:     "sk_test",
			PriceID:       "price_1",
			WebhookSecret: "whsec_test",
		},
		Workflow: config.WorkflowConfig{
			URL:             "https://n8n.example/webhook/chat",
			AuthHeaderName:  "X-N8N-Auth",
			AuthHeaderValue: "secret",
		},
		CORS: config.CORSConfig{AllowOrigins: []string{"*"}},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("AUTH_DISABLED", "false")
	env := &testEnv{
		subs:    newFakeSubs(),
		chats:   &fakeChats{},
		billing: &fakeBilling{subs: map[string]*models.BillingSubscription{}},
		engine:  &fakeEngine{output: "hello from the engine"},
	}
	env.server = &Server{
		Config:   testConfig(),
		Verifier: tokenVerifier{"tok-alice": "alice", "tok-bob": "bob"},
		Subs:     env.subs,
		Chats:    env.chats,
		Billing:  env.billing,
		Engine:   env.engine,
	}
	env.router = NewRouter(env.server)
	return env
}

// rebuild re-creates the router after the test mutates the server.
func (e *testEnv) rebuild() {
	e.router = NewRouter(e.server)
}

func (e *testEnv) entitle(userID string) {
	e.subs.add(models.Subscription{
		UserID:               userID,
		StripeCustomerID:     "cus_" + userID,
		StripeSubscriptionID: "sub_" + userID,
		StripePriceID:        "price_1",
		Status:               models.StatusActive,
	})
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}
