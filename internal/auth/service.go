package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
	"github.com/lisbetwade-design/ReviuNew/internal/config"
	httperrors "github.com/lisbetwade-design/ReviuNew/internal/http/errors"
)

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// Service authenticates API callers from their bearer token.
type Service struct {
	verifier Verifier
}

// NewService selects OIDC verification when an issuer is configured and
// shared-secret HS256 verification otherwise.
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	if cfg.Auth.IssuerURL != "" {
		provider, err := oidc.NewProvider(ctx, cfg.Auth.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("discover issuer %s: %w", cfg.Auth.IssuerURL, err)
		}
		v := provider.Verifier(&oidc.Config{
			ClientID:          cfg.Auth.Audience,
			SkipClientIDCheck: cfg.Auth.Audience == "",
		})
		return NewServiceWithVerifier(NewOIDCVerifier(v)), nil
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("%w: no caller identity verifier configured", apperr.ErrConfiguration)
	}
	return NewServiceWithVerifier(NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Audience)), nil
}

func NewServiceWithVerifier(v Verifier) *Service {
	return &Service{verifier: v}
}

// Authenticate resolves the caller of r.
func (s *Service) Authenticate(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: missing bearer token", apperr.ErrUnauthenticated)
	}
	id, err := s.verifier.Verify(r.Context(), strings.TrimSpace(raw))
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthenticated) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	return id, nil
}

// RequireUser rejects unauthenticated requests and stores the Identity in the
// request context.
func (s *Service) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.Authenticate(r)
		if err != nil {
			httperrors.Write(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), id)))
	})
}

// OIDCVerifier checks ID tokens against an issuer's published keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(v *oidc.IDTokenVerifier) *OIDCVerifier {
	return &OIDCVerifier{verifier: v}
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %v", apperr.ErrUnauthenticated, err)
	}
	return &Identity{Subject: tok.Subject, Email: claims.Email}, nil
}

// JWTVerifier checks HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret   []byte
	audience string
}

func NewJWTVerifier(secret, audience string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), audience: audience}
}

type callerClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (v *JWTVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &callerClaims{}
	if _, err := jwt.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", apperr.ErrUnauthenticated)
	}
	return &Identity{Subject: claims.Subject, Email: claims.Email}, nil
}
