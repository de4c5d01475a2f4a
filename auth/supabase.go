package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/damfello/bequ-15/apperr"
)

const (
	userInfoPath     = "/auth/v1/user"
	defaultAuthDelay = 200 * time.Millisecond
	maxErrorBody     = 4096
)

// SupabaseVerifier resolves a token by asking the provider who it belongs to.
// The lookup is a GET, so a transient failure is retried once.
type SupabaseVerifier struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	retryDelay time.Duration
	httpc      *http.Client
}

// NewSupabaseVerifier builds a verifier for the project at baseURL.
// A nil client uses http.DefaultClient.
func NewSupabaseVerifier(baseURL, serviceKey string, timeout time.Duration, httpc *http.Client) (*SupabaseVerifier, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || strings.TrimSpace(serviceKey) == "" {
		return nil, errors.New("supabase url and service role key must be set")
	}
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SupabaseVerifier{
		baseURL:    baseURL,
		apiKey:     serviceKey,
		timeout:    timeout,
		retryDelay: defaultAuthDelay,
		httpc:      httpc,
	}, nil
}

type supabaseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Aud   string `json:"aud"`
	Role  string `json:"role"`
}

// providerError covers the shapes the auth API has used for error bodies.
type providerError struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (p providerError) text() string {
	for _, s := range []string{p.Msg, p.Message, p.ErrorDescription, p.Error} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Verify implements Verifier.
func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	var claims *Claims
	backoff := retry.WithMaxRetries(1, retry.NewConstant(v.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := v.lookup(ctx, token)
		if err != nil {
			if _, classified := apperr.As(err); classified {
				return err
			}
			return retry.RetryableError(err)
		}
		claims = c
		return nil
	})
	if err != nil {
		if _, classified := apperr.As(err); classified {
			return nil, err
		}
		return nil, apperr.Upstream("Identity provider unavailable", err)
	}
	return claims, nil
}

func (v *SupabaseVerifier) lookup(ctx context.Context, token string) (*Claims, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+userInfoPath, nil)
	if err != nil {
		return nil, apperr.Upstream("Identity provider unavailable", err)
	}
	req.Header.Set("apikey", v.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	res, err := v.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, fmt.Errorf("identity provider http %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if res.StatusCode != http.StatusOK {
		var pe providerError
		_ = json.NewDecoder(io.LimitReader(res.Body, maxErrorBody)).Decode(&pe)
		msg := pe.text()
		if msg == "" {
			msg = invalidTokenMessage
		}
		return nil, apperr.Unauthenticated(msg)
	}

	var u supabaseUser
	if err := json.NewDecoder(res.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode identity response: %w", err)
	}
	if strings.TrimSpace(u.ID) == "" {
		return nil, apperr.Unauthenticated(invalidTokenMessage)
	}

	return &Claims{
		Subject:  u.ID,
		Email:    strings.TrimSpace(u.Email),
		Audience: nonEmpty(u.Aud),
		Role:     u.Role,
	}, nil
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
