// Package tokens keeps stored provider connections usable: it refreshes expired
// access tokens and retries a provider call once after the provider rejects a
// token.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
	"github.com/lisbetwade-design/ReviuNew/internal/metrics"
	"github.com/lisbetwade-design/ReviuNew/internal/store"
	"github.com/lisbetwade-design/ReviuNew/internal/vault"
)

// DefaultLifetime applies when the provider omits expires_in.
const DefaultLifetime = 90 * 24 * time.Hour

// refreshTimeout bounds a shared refresh, which outlives the request that
// started it.
const refreshTimeout = 30 * time.Second

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Orchestrator hands out plaintext access tokens for stored connections.
type Orchestrator struct {
	conns     store.ConnectionRepository
	vault     *vault.Vault
	refresher Refresher
	logger    *zap.Logger
	now       func() time.Time

	inflight singleflight.Group
}

func New(conns store.ConnectionRepository, v *vault.Vault, refresher Refresher, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		conns:     conns,
		vault:     v,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// Connection loads the owner's connection for provider.
func (o *Orchestrator) Connection(ctx context.Context, ownerID string, provider store.Provider) (*store.Connection, error) {
	conn, err := o.conns.Get(ctx, ownerID, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("load %s connection: %w", provider, err)
	}
	return conn, nil
}

// AccessToken returns a usable access token for conn, refreshing it first when
// it has expired and a refresh token is stored. The returned connection
// reflects any refresh.
func (o *Orchestrator) AccessToken(ctx context.Context, conn *store.Connection) (string, *store.Connection, error) {
	if !conn.ExpiresAt.After(o.now()) && conn.EncryptedRefreshToken != nil {
		return o.refresh(ctx, conn)
	}
	token, err := o.vault.Decrypt(conn.EncryptedAccessToken)
	if err != nil {
		o.logger.Error("stored access token unreadable", zap.String("owner_id", conn.OwnerID), zap.Error(err))
		return "", nil, err
	}
	return token, conn, nil
}

// ForceRefresh refreshes conn regardless of its expiry.
func (o *Orchestrator) ForceRefresh(ctx context.Context, conn *store.Connection) (string, *store.Connection, error) {
	if conn.EncryptedRefreshToken == nil {
		return "", nil, fmt.Errorf("%w: no refresh token stored", apperr.ErrReauthRequired)
	}
	return o.refresh(ctx, conn)
}

// Do runs call with a valid access token. When the provider rejects the token
// it forces one refresh and runs call again. A second rejection is reported as
// ErrReauthRequired.
func (o *Orchestrator) Do(ctx context.Context, conn *store.Connection, call func(ctx context.Context, accessToken string) error) (*store.Connection, error) {
	token, conn, err := o.AccessToken(ctx, conn)
	if err != nil {
		return nil, err
	}
	err = call(ctx, token)
	if !errors.Is(err, apperr.ErrTokenRejected) {
		return conn, err
	}

	o.logger.Info("provider rejected access token, refreshing", zap.String("owner_id", conn.OwnerID))
	token, conn, err = o.ForceRefresh(ctx, conn)
	if err != nil {
		return nil, err
	}
	if err := call(ctx, token); err != nil {
		if errors.Is(err, apperr.ErrTokenRejected) {
			return conn, fmt.Errorf("%w: %v", apperr.ErrReauthRequired, err)
		}
		return conn, err
	}
	return conn, nil
}

type refreshed struct {
	token string
	conn  *store.Connection
}

func (o *Orchestrator) refresh(ctx context.Context, conn *store.Connection) (string, *store.Connection, error) {
	key := conn.OwnerID + "/" + string(conn.Provider)
	v, err, _ := o.inflight.Do(key, func() (any, error) {
		// Every caller sharing the flight waits on this refresh, so the first
		// caller's cancellation must not abort it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return o.refreshOnce(ctx, conn)
	})
	if err != nil {
		return "", nil, err
	}
	r := v.(refreshed)
	return r.token, r.conn, nil
}

func (o *Orchestrator) refreshOnce(ctx context.Context, prev *store.Connection) (refreshed, error) {
	provider := string(prev.Provider)
	refreshToken, err := o.vault.Decrypt(*prev.EncryptedRefreshToken)
	if err != nil {
		o.logger.Error("stored refresh token unreadable", zap.String("owner_id", prev.OwnerID), zap.Error(err))
		return refreshed{}, err
	}

	tok, err := o.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		metrics.ObserveTokenRefresh(provider, metrics.OutcomeFailed)
		if errors.Is(err, apperr.ErrProviderUnavailable) || errors.Is(err, apperr.ErrReauthRequired) {
			return refreshed{}, err
		}
		return refreshed{}, fmt.Errorf("%w: %v", apperr.ErrReauthRequired, err)
	}

	now := o.now()
	next := *prev
	next.UpdatedAt = now
	next.ExpiresAt = tok.Expiry
	if next.ExpiresAt.IsZero() || !next.ExpiresAt.After(now) {
		next.ExpiresAt = now.Add(DefaultLifetime)
	}
	if next.EncryptedAccessToken, err = o.vault.Encrypt(tok.AccessToken); err != nil {
		return refreshed{}, err
	}
	if tok.RefreshToken != "" {
		if next.EncryptedRefreshToken, err = o.vault.EncryptOptional(tok.RefreshToken); err != nil {
			return refreshed{}, err
		}
	}

	swapped, err := o.conns.SwapTokens(ctx, *prev, next)
	if err != nil {
		return refreshed{}, fmt.Errorf("persist refreshed token: %w", err)
	}
	if !swapped {
		// Another process refreshed first; its token is the current one.
		metrics.ObserveTokenRefresh(provider, metrics.OutcomeRaced)
		current, err := o.conns.Get(ctx, prev.OwnerID, prev.Provider)
		if err != nil {
			return refreshed{}, fmt.Errorf("reload connection: %w", err)
		}
		token, err := o.vault.Decrypt(current.EncryptedAccessToken)
		if err != nil {
			return refreshed{}, err
		}
		return refreshed{token: token, conn: current}, nil
	}

	metrics.ObserveTokenRefresh(provider, metrics.OutcomeRefreshed)
	o.logger.Info("access token refreshed",
		zap.String("owner_id", prev.OwnerID),
		zap.String("provider", provider),
		zap.Time("expires_at", next.ExpiresAt),
	)
	return refreshed{token: tok.AccessToken, conn: &next}, nil
}
