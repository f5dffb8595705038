// Package twitchapi contains the Twitch-facing clients: the app access token
// lifecycle manager and minimal Helix/chatters API helpers used for liveness
// checks and roster polling.
package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Tigermouthbear/ttvattendance/telemetry"
)

const defaultTokenURL = "https://id.twitch.tv/oauth2/token"

// Credential is the persisted app access token record. It round-trips
// losslessly through the credential store.
type Credential struct {
	Token      string
	TokenType  string
	TTLSeconds int
	IssuedAt   time.Time
}

// valid reports whether the record passes basic shape validation.
func (c Credential) valid() bool {
	return c.Token != "" && c.TTLSeconds > 0 && !c.IssuedAt.IsZero()
}

// CredentialStore persists the credential across restarts. Load returns
// ok=false for an absent or unusable record; it never fails on corrupt data.
type CredentialStore interface {
	Load(ctx context.Context) (cred Credential, ok bool, err error)
	Save(ctx context.Context, cred Credential) error
}

// TokenSource owns the single app access (client credentials) token used for
// all upstream calls. It refreshes at half-life, which absorbs scheduler
// jitter and upstream clock skew without a finer-grained timer.
// NOTE: an app token cannot be used for IRC chat, only for HTTP APIs.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the Twitch ID endpoint (configurable for testing).
	TokenURL string
	// Store persists refreshed credentials; may be nil for a purely in-memory token.
	Store CredentialStore
	// HTTPClient overrides the client used for the token request.
	HTTPClient *http.Client
	// Clock defaults to the real clock; tests inject a fake.
	Clock clockwork.Clock

	mu     sync.Mutex
	cred   Credential
	loaded bool
}

func (ts *TokenSource) clock() clockwork.Clock {
	if ts.Clock == nil {
		return clockwork.NewRealClock()
	}
	return ts.Clock
}

// EnsureValid makes sure a usable credential is held and persisted,
// refreshing when the current one has passed half of its lifetime (or has a
// nonsensical issue time). Idempotent; cheap when the credential is fresh.
func (ts *TokenSource) EnsureValid(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.loaded {
		ts.loadLocked(ctx)
		ts.loaded = true
	}

	if ts.cred.valid() {
		elapsed := ts.clock().Now().Sub(ts.cred.IssuedAt)
		if elapsed > 0 && elapsed.Seconds() <= float64(ts.cred.TTLSeconds)/2 {
			return nil
		}
	}
	return ts.refreshLocked(ctx)
}

// Get returns a valid bearer token, refreshing first if needed.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	if err := ts.EnsureValid(ctx); err != nil {
		return "", err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.cred.Token, nil
}

// loadLocked reads the persisted credential. Absent or corrupt records are
// treated as "no credential": the next refresh mints a fresh one. Nothing on
// this path escapes the manager's boundary.
func (ts *TokenSource) loadLocked(ctx context.Context) {
	if ts.Store == nil {
		return
	}
	cred, ok, err := ts.Store.Load(ctx)
	if err != nil {
		slog.Warn("stored credential unreadable, will mint a new one", slog.Any("err", err))
		return
	}
	if !ok || !cred.valid() {
		return
	}
	ts.cred = cred
}

func (ts *TokenSource) refreshLocked(ctx context.Context) error {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return errors.New("missing client id/secret for twitch app token")
	}
	tokenURL := ts.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	conf := &clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
	}
	if ts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
	}
	tok, err := conf.Token(ctx)
	if err != nil {
		return fmt.Errorf("twitch token request failed: %w", err)
	}
	if tok.AccessToken == "" {
		return errors.New("empty access_token in twitch response")
	}
	now := ts.clock().Now()
	ttl := int(tok.ExpiresIn)
	if ttl <= 0 && !tok.Expiry.IsZero() {
		ttl = int(time.Until(tok.Expiry).Seconds())
	}
	if ttl <= 0 {
		return fmt.Errorf("twitch token response carries no usable lifetime")
	}
	cred := Credential{
		Token:      tok.AccessToken,
		TokenType:  tok.Type(),
		TTLSeconds: ttl,
		IssuedAt:   now,
	}
	// Persist before publishing so a crash right after refresh can't leave a
	// stale token as the only copy on disk.
	if ts.Store != nil {
		if err := ts.Store.Save(ctx, cred); err != nil {
			return fmt.Errorf("persist refreshed credential: %w", err)
		}
	}
	ts.cred = cred
	if telemetry.TokenRefreshes != nil {
		telemetry.TokenRefreshes.Inc()
	}
	slog.Info("twitch app token refreshed", slog.Int("ttl_seconds", ttl))
	return nil
}
