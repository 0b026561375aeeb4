// Package slackapi resolves Slack channel and user names, lists subscribable
// channels with per-workspace tokens, and verifies signed webhook requests.
package slackapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
	httperrors "github.com/lisbetwade-design/ReviuNew/internal/http/errors"
)

const (
	maxBodyBytes = 1 << 20

	channelPageSize = 200
	maxChannelPages = 50
)

// Resolver looks up display names. Each call uses the token of the account
// the event is delivered to.
type Resolver struct {
	apiURL     string
	httpClient *http.Client
}

func NewResolver(apiURL string, httpClient *http.Client) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Resolver{apiURL: apiURL, httpClient: httpClient}
}

func (r *Resolver) client(token string) *slack.Client {
	opts := []slack.Option{slack.OptionHTTPClient(r.httpClient)}
	if r.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(r.apiURL))
	}
	return slack.New(token, opts...)
}

// ChannelName returns the channel's name.
func (r *Resolver) ChannelName(ctx context.Context, token, channelID string) (string, error) {
	ch, err := r.client(token).GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return "", fmt.Errorf("conversations.info %s: %w", channelID, classify(err))
	}
	return ch.Name, nil
}

// UserName prefers the real name, then the display name, then the handle.
func (r *Resolver) UserName(ctx context.Context, token, userID string) (string, error) {
	u, err := r.client(token).GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("users.info %s: %w", userID, classify(err))
	}
	switch {
	case u.RealName != "":
		return u.RealName, nil
	case u.Profile.DisplayName != "":
		return u.Profile.DisplayName, nil
	default:
		return u.Name, nil
	}
}

// Channel is a conversation the account can subscribe to.
type Channel struct {
	ID        string
	Name      string
	IsPrivate bool
	IsMember  bool
}

// Channels lists the workspace's unarchived public and private channels
// visible to token, following the cursor across pages.
func (r *Resolver) Channels(ctx context.Context, token string) ([]Channel, error) {
	c := r.client(token)
	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel"},
		ExcludeArchived: true,
		Limit:           channelPageSize,
	}
	var out []Channel
	for page := 0; page < maxChannelPages; page++ {
		chans, next, err := c.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("conversations.list: %w", classify(err))
		}
		for _, ch := range chans {
			out = append(out, Channel{ID: ch.ID, Name: ch.Name, IsPrivate: ch.IsPrivate, IsMember: ch.IsMember})
		}
		if next == "" {
			return out, nil
		}
		params.Cursor = next
	}
	return out, nil
}

func classify(err error) error {
	if _, ok := err.(*slack.RateLimitedError); ok {
		return fmt.Errorf("%w: %v", apperr.ErrProviderUnavailable, err)
	}
	switch err.Error() {
	case "invalid_auth", "token_revoked", "not_authed", "account_inactive":
		return fmt.Errorf("%w: %v", apperr.ErrTokenRejected, err)
	}
	return err
}

// VerifySignature returns middleware that rejects requests whose Slack
// signature does not match secret. The body is restored for the next handler.
func VerifySignature(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := verify(r, secret); err != nil {
				httperrors.Write(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verify(r *http.Request, secret string) error {
	verifier, err := slack.NewSecretsVerifier(r.Header, secret)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrSignatureMismatch, err)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", apperr.ErrInvalidInput, err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if _, err := verifier.Write(body); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrSignatureMismatch, err)
	}
	if err := verifier.Ensure(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrSignatureMismatch, err)
	}
	return nil
}
