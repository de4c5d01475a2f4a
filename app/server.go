package app

import (
	"context"

	"github.com/damfello/bequ-15/app/config"
	"github.com/damfello/bequ-15/auth"
)

// Pinger reports data store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the injected collaborators shared by the HTTP handlers.
type Server struct {
	Config   *config.Config
	Verifier auth.Verifier
	Subs     SubscriptionStore
	Chats    ChatStore
	Billing  Billing
	Engine   ChatEngine
	DB       Pinger

	// DisableAuth injects a local identity instead of verifying tokens.
	DisableAuth bool
}

// NewServer wires production collaborators from cfg around an open store.
// Missing identity settings leave Verifier nil, so protected routes answer
// with a configuration error instead of the process refusing to start.
func NewServer(cfg *config.Config, store *Store) (*Server, error) {
	var verifier auth.Verifier
	if len(cfg.Auth.Missing()) == 0 {
		v, err := newVerifier(cfg.Auth)
		if err != nil && !auth.AuthDisabled() {
			return nil, err
		}
		verifier = v
	}

	s := &Server{
		Config:   cfg,
		Verifier: verifier,
		Subs:     store,
		Chats:    store,
		DB:       store,
	}
	if cfg.Stripe.SecretKey != "" {
		s.Billing = NewStripeBilling(cfg.Stripe.SecretKey, cfg.Stripe.Timeout)
	}
	if len(cfg.Workflow.Missing()) == 0 {
		s.Engine = NewWorkflowClient(cfg.Workflow.URL, cfg.Workflow.AuthHeaderName, cfg.Workflow.AuthHeaderValue, cfg.Workflow.Timeout, nil)
	}
	return s, nil
}

func newVerifier(cfg config.AuthConfig) (auth.Verifier, error) {
	if cfg.JWKSURL != "" {
		v, err := auth.NewJWKSVerifier(cfg.Issuer, cfg.Audience, cfg.JWKSURL)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	v, err := auth.NewSupabaseVerifier(cfg.SupabaseURL, cfg.ServiceRoleKey, cfg.Timeout, nil)
	if err != nil {
		return nil, err
	}
	return v, nil
}
