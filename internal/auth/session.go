// Package auth performs HTTP credential login against the FanSync cloud and
// owns the resulting bearer token session.
package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fansync/fansync/internal/metrics"

	"github.com/cristalhq/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidCredentials is terminal: the caller must re-collect credentials,
// the client never retries login with the same pair on this error.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Error is an auth failure. Transient errors are retryable by caller policy.
type Error struct {
	Transient bool
	Status    int
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("auth failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("auth failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable auth failure.
func IsTransient(err error) bool {
	var authErr *Error
	return errors.As(err, &authErr) && authErr.Transient
}

// Credentials hold the cloud account email/password pair.
type Credentials struct {
	Email    string
	Password string
}

// Session is an authenticated cloud session.
type Session struct {
	Token      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ObtainedAt time.Time
}

// Valid reports whether the token exists and its remaining lifetime is above
// margin. Tokens without an exp claim are treated as valid once obtained.
func (s Session) Valid(margin time.Duration, now time.Time) bool {
	if s.Token == "" {
		return false
	}
	if s.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(margin).Before(s.ExpiresAt)
}

type Config struct {
	// Endpoint is the HTTP session URL.
	Endpoint string
	// HTTPTimeout bounds the login request end to end.
	HTTPTimeout time.Duration
	// RefreshMargin is a remaining token lifetime below which EnsureValid
	// obtains a new token.
	RefreshMargin time.Duration
}

// AuthSession performs login and token refresh. Safe for concurrent use;
// concurrent refreshes collapse into a single HTTP request.
type AuthSession struct {
	config    Config
	client    *http.Client
	log       zerolog.Logger
	collector *metrics.Collector

	mu      sync.Mutex
	creds   Credentials
	session Session

	refreshGroup singleflight.Group
}

func New(cfg Config, creds Credentials, logger zerolog.Logger, collector *metrics.Collector) *AuthSession {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = time.Minute
	}
	return &AuthSession{
		config:    cfg,
		client:    &http.Client{Timeout: cfg.HTTPTimeout},
		log:       logger,
		collector: collector,
		creds:     creds,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login performs a single HTTP login request. 401/403 map to
// ErrInvalidCredentials, timeouts and 5xx to a transient Error.
func (a *AuthSession) Login(ctx context.Context) (Session, error) {
	a.mu.Lock()
	creds := a.creds
	a.mu.Unlock()

	started := time.Now()
	session, err := a.login(ctx, creds)
	elapsed := time.Since(started)
	if err != nil {
		if a.collector != nil {
			a.collector.RecordConnectionFailure(metrics.TimingHTTPLogin, errKind(err), elapsed, 0)
		}
		return Session{}, err
	}
	if a.collector != nil {
		a.collector.RecordTiming(metrics.TimingHTTPLogin, elapsed)
	}

	a.mu.Lock()
	a.session = session
	a.mu.Unlock()

	a.log.Debug().Dur("elapsed", elapsed).Time("expires_at", session.ExpiresAt).Msg("http login ok")
	return session, nil
}

func (a *AuthSession) login(ctx context.Context, creds Credentials) (Session, error) {
	body, err := json.Marshal(loginRequest{Email: creds.Email, Password: creds.Password})
	if err != nil {
		return Session{}, &Error{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Session{}, &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Session{}, &Error{Transient: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Session{}, &Error{Status: resp.StatusCode, Err: ErrInvalidCredentials}
	case resp.StatusCode >= 500:
		return Session{}, &Error{Transient: true, Status: resp.StatusCode, Err: errors.New("server error")}
	case resp.StatusCode != http.StatusOK:
		return Session{}, &Error{Status: resp.StatusCode, Err: errors.New("unexpected status")}
	}

	var decoded loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Session{}, &Error{Transient: true, Err: fmt.Errorf("decoding login response: %w", err)}
	}
	if decoded.Token == "" {
		return Session{}, &Error{Err: errors.New("login response missing token")}
	}

	session := Session{Token: decoded.Token, ObtainedAt: time.Now()}
	if claims, err := parseClaims(decoded.Token); err == nil {
		if claims.IssuedAt != nil {
			session.IssuedAt = claims.IssuedAt.Time
		}
		if claims.ExpiresAt != nil {
			session.ExpiresAt = claims.ExpiresAt.Time
		}
	}
	return session, nil
}

// Refresh obtains a new token. Concurrent callers share one request.
func (a *AuthSession) Refresh(ctx context.Context) (Session, error) {
	res, err, _ := a.refreshGroup.Do("refresh", func() (interface{}, error) {
		session, err := a.Login(ctx)
		if err != nil {
			return Session{}, err
		}
		if a.collector != nil {
			a.collector.RecordTokenRefresh()
		}
		return session, nil
	})
	if err != nil {
		return Session{}, err
	}
	return res.(Session), nil
}

// EnsureValid returns the cached session if its remaining lifetime is above
// the refresh margin, otherwise refreshes.
func (a *AuthSession) EnsureValid(ctx context.Context) (Session, error) {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session.Valid(a.config.RefreshMargin, time.Now()) {
		return session, nil
	}
	return a.Refresh(ctx)
}

// Current returns the cached session without any network I/O.
func (a *AuthSession) Current() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Invalidate clears the cached token. Called on logout and on unrecoverable
// auth failures from the realtime layer.
func (a *AuthSession) Invalidate() {
	a.mu.Lock()
	a.session = Session{}
	a.mu.Unlock()
}

func parseClaims(token string) (*jwt.RegisteredClaims, error) {
	parsed, err := jwt.ParseNoVerify([]byte(token))
	if err != nil {
		return nil, err
	}
	var claims jwt.RegisteredClaims
	if err := json.Unmarshal(parsed.Claims(), &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// TokenMetadata extracts non-sensitive JWT metadata for diagnostics. The
// token itself is never included.
func (a *AuthSession) TokenMetadata() map[string]any {
	session := a.Current()
	if session.Token == "" {
		return map[string]any{}
	}
	claims, err := parseClaims(session.Token)
	if err != nil {
		return map[string]any{"format_valid": false}
	}
	meta := map[string]any{
		"format_valid": true,
		"length":       len(session.Token),
		"issuer":       claims.Issuer,
	}
	if claims.IssuedAt != nil {
		meta["issued_at"] = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		meta["expires_at"] = exp
		meta["expires_in_seconds"] = int(time.Until(exp).Seconds())
		meta["is_expired"] = exp.Before(time.Now())
	}
	return meta
}

func errKind(err error) string {
	var authErr *Error
	if errors.As(err, &authErr) {
		if errors.Is(authErr.Err, ErrInvalidCredentials) {
			return "invalid_credentials"
		}
		if authErr.Transient {
			return "transient"
		}
	}
	return "error"
}
