// Package oauthflow runs the authorization-code-with-PKCE handshake that
// creates a provider Connection.
package oauthflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
	"github.com/lisbetwade-design/ReviuNew/internal/figma"
	"github.com/lisbetwade-design/ReviuNew/internal/store"
	"github.com/lisbetwade-design/ReviuNew/internal/tokens"
	"github.com/lisbetwade-design/ReviuNew/internal/vault"
)

const DefaultStateTTL = 10 * time.Minute

// Provider is the OAuth surface of the design tool.
type Provider interface {
	Configured() bool
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	Me(ctx context.Context, accessToken string) (*figma.User, error)
}

type Flow struct {
	provider Provider
	pending  store.PendingAuthorizationRepository
	conns    store.ConnectionRepository
	vault    *vault.Vault
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func New(provider Provider, pending store.PendingAuthorizationRepository, conns store.ConnectionRepository, v *vault.Vault, ttl time.Duration, logger *zap.Logger) *Flow {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		provider: provider,
		pending:  pending,
		conns:    conns,
		vault:    v,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Start records a fresh state and verifier for ownerID and returns the
// provider consent URL.
func (f *Flow) Start(ctx context.Context, ownerID string) (string, error) {
	if ownerID == "" {
		return "", apperr.ErrUnauthenticated
	}
	if !f.provider.Configured() {
		return "", fmt.Errorf("%w: figma oauth client is not configured", apperr.ErrConfiguration)
	}

	state, err := randomState()
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()
	now := f.now()
	if err := f.pending.Create(ctx, store.PendingAuthorization{
		State:        state,
		CodeVerifier: verifier,
		OwnerID:      ownerID,
		Provider:     store.ProviderFigma,
		ExpiresAt:    now.Add(f.ttl),
		CreatedAt:    now,
	}); err != nil {
		return "", fmt.Errorf("store pending authorization: %w", err)
	}
	return f.provider.AuthCodeURL(state, verifier), nil
}

// Callback consumes state, exchanges code and stores the resulting
// Connection. The pending row is gone afterwards whatever the outcome.
func (f *Flow) Callback(ctx context.Context, code, state string) (*store.Connection, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: missing state", apperr.ErrInvalidState)
	}
	pending, err := f.pending.Take(ctx, state, store.ProviderFigma)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("load pending authorization: %w", err)
	}
	logger := f.logger.With(zap.String("owner_id", pending.OwnerID))

	if !pending.ExpiresAt.After(f.now()) {
		logger.Warn("oauth state expired", zap.Time("expires_at", pending.ExpiresAt))
		return nil, apperr.ErrStateExpired
	}
	if code == "" {
		return nil, apperr.WithDetails(apperr.ErrTokenExchangeFailed, "Missing authorization code", nil)
	}

	tok, err := f.provider.Exchange(ctx, code, pending.CodeVerifier)
	if err != nil {
		logger.Warn("token exchange failed", zap.Error(err))
		return nil, err
	}

	user, err := f.provider.Me(ctx, tok.AccessToken)
	if err != nil || user.ID == "" {
		logger.Warn("profile fetch failed", zap.Error(err))
		details := map[string]any{}
		if err != nil {
			details["error"] = err.Error()
		}
		return nil, apperr.WithDetails(apperr.ErrProfileFetchFailed, "Failed to fetch Figma user profile", details)
	}

	conn, err := f.connection(pending.OwnerID, tok, user)
	if err != nil {
		return nil, err
	}
	if err := f.conns.Upsert(ctx, *conn); err != nil {
		return nil, fmt.Errorf("store connection: %w", err)
	}
	logger.Info("figma account connected", zap.String("provider_user_id", user.ID))
	return conn, nil
}

// Abort discards state after the provider reported a denied or failed
// authorization.
func (f *Flow) Abort(ctx context.Context, state string) {
	if state == "" {
		return
	}
	if _, err := f.pending.Take(ctx, state, store.ProviderFigma); err != nil && !errors.Is(err, store.ErrNotFound) {
		f.logger.Warn("discard pending authorization failed", zap.Error(err))
	}
}

func (f *Flow) connection(ownerID string, tok *oauth2.Token, user *figma.User) (*store.Connection, error) {
	access, err := f.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := f.vault.EncryptOptional(tok.RefreshToken)
	if err != nil {
		return nil, err
	}

	now := f.now()
	expires := tok.Expiry
	if expires.IsZero() {
		expires = now.Add(tokens.DefaultLifetime)
	}
	conn := &store.Connection{
		OwnerID:               ownerID,
		Provider:              store.ProviderFigma,
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
		ExpiresAt:             expires,
		ProviderUserID:        user.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if user.Email != "" {
		conn.ProviderUserEmail = &user.Email
	}
	if user.Handle != "" {
		conn.ProviderUserHandle = &user.Handle
	}
	return conn, nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
