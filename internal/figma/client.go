// Package figma talks to the Figma OAuth and REST APIs.
package figma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
)

const maxErrorBody = 4 << 10

var fileKeyPattern = regexp.MustCompile(`(?:file|design)/([a-zA-Z0-9]+)`)

// ExtractFileKey returns the file key embedded in a Figma file or design URL.
func ExtractFileKey(rawURL string) (string, bool) {
	m := fileKeyPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Options configures a Client. HTTPClient carries the outbound timeout.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	RefreshURL   string
	APIURL       string
	Scopes       []string
	HTTPClient   *http.Client
}

// Client wraps the authorization-code, refresh, and REST endpoints.
type Client struct {
	oauth   oauth2.Config
	refresh oauth2.Config
	apiURL  string
	http    *http.Client
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	base := oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURL:  opts.RedirectURL,
		Scopes:       opts.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   opts.AuthURL,
			TokenURL:  opts.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	refresh := base
	refresh.Endpoint.TokenURL = opts.RefreshURL

	return &Client{
		oauth:   base,
		refresh: refresh,
		apiURL:  strings.TrimRight(opts.APIURL, "/"),
		http:    httpClient,
	}
}

// Configured reports whether OAuth client credentials are present.
func (c *Client) Configured() bool {
	return c.oauth.ClientID != "" && c.oauth.ClientSecret != ""
}

// AuthCodeURL builds the consent URL with an S256 challenge for verifier.
func (c *Client) AuthCodeURL(state, verifier string) string {
	return c.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// Exchange trades an authorization code and its verifier for tokens.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyOAuthError(err, apperr.ErrTokenExchangeFailed, "Failed to exchange token")
	}
	return tok, nil
}

// Refresh obtains a new access token from refreshToken.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := c.refresh.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyOAuthError(err, apperr.ErrReauthRequired, "Figma authorization expired, please reconnect")
	}
	return tok, nil
}

func classifyOAuthError(err error, rejected error, message string) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		details := map[string]any{"error": re.ErrorCode, "error_description": re.ErrorDescription}
		if re.Response != nil {
			details["status"] = re.Response.StatusCode
			if re.Response.StatusCode >= http.StatusInternalServerError {
				return apperr.WithDetails(apperr.ErrProviderUnavailable, message, details)
			}
		}
		if re.ErrorCode == "" {
			details["body"] = truncate(string(re.Body))
		}
		return apperr.WithDetails(rejected, message, details)
	}
	if isTransport(err) {
		return fmt.Errorf("%w: %v", apperr.ErrProviderUnavailable, err)
	}
	return apperr.WithDetails(rejected, message, map[string]any{"error": err.Error()})
}

func isTransport(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded)
}

// APIError is a non-success REST response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("figma api status %d: %s", e.StatusCode, e.Message)
}

func (c *Client) get(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", apperr.ErrTokenRejected, apiErr)
	case resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(apiErr.Message), "invalid token"):
		return fmt.Errorf("%w: %w", apperr.ErrTokenRejected, apiErr)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, apiErr)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", apperr.ErrProviderUnavailable, apiErr)
	default:
		return apiErr
	}
}

func errorMessage(body []byte) string {
	var payload struct {
		Err     string `json:"err"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Err != "" {
			return payload.Err
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	if len(s) > 256 {
		return s[:256]
	}
	return s
}

// User is the account behind an access token.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Handle string `json:"handle"`
	ImgURL string `json:"img_url"`
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.get(ctx, accessToken, "/v1/me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// File is the subset of file metadata the ingestion engine needs.
type File struct {
	Name         string    `json:"name"`
	LastModified time.Time `json:"lastModified"`
	ThumbnailURL string    `json:"thumbnailUrl"`
}

// File fetches file metadata without the document tree.
func (c *Client) File(ctx context.Context, accessToken, fileKey string) (*File, error) {
	var f File
	if err := c.get(ctx, accessToken, "/v1/files/"+url.PathEscape(fileKey)+"?depth=1", &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Vector is a canvas coordinate.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ClientMeta anchors a comment either absolutely or relative to a node.
type ClientMeta struct {
	X          *float64 `json:"x,omitempty"`
	Y          *float64 `json:"y,omitempty"`
	NodeID     string   `json:"node_id,omitempty"`
	NodeOffset *Vector  `json:"node_offset,omitempty"`
}

// Comment is one file comment.
type Comment struct {
	ID         string      `json:"id"`
	FileKey    string      `json:"file_key"`
	ParentID   string      `json:"parent_id"`
	User       User        `json:"user"`
	Message    string      `json:"message"`
	CreatedAt  time.Time   `json:"created_at"`
	ResolvedAt *time.Time  `json:"resolved_at"`
	ClientMeta *ClientMeta `json:"client_meta"`
}

// Resolved reports whether the comment thread was marked resolved.
func (c Comment) Resolved() bool { return c.ResolvedAt != nil }

// Position returns the canvas pin, if any.
func (c Comment) Position() (x, y *float64) {
	if c.ClientMeta == nil {
		return nil, nil
	}
	if c.ClientMeta.X != nil && c.ClientMeta.Y != nil {
		return c.ClientMeta.X, c.ClientMeta.Y
	}
	if off := c.ClientMeta.NodeOffset; off != nil {
		ox, oy := off.X, off.Y
		return &ox, &oy
	}
	return nil, nil
}

// FileComments lists every comment on fileKey.
func (c *Client) FileComments(ctx context.Context, accessToken, fileKey string) ([]Comment, error) {
	var payload struct {
		Comments []Comment `json:"comments"`
	}
	if err := c.get(ctx, accessToken, "/v1/files/"+url.PathEscape(fileKey)+"/comments", &payload); err != nil {
		return nil, err
	}
	return payload.Comments, nil
}
