// Package api serves the JSON and browser-facing endpoints of the ingestion
// engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
	"github.com/lisbetwade-design/ReviuNew/internal/auth"
	"github.com/lisbetwade-design/ReviuNew/internal/config"
	"github.com/lisbetwade-design/ReviuNew/internal/figma"
	"github.com/lisbetwade-design/ReviuNew/internal/figmasync"
	httperrors "github.com/lisbetwade-design/ReviuNew/internal/http/errors"
	"github.com/lisbetwade-design/ReviuNew/internal/slackapi"
	"github.com/lisbetwade-design/ReviuNew/internal/slackingest"
	"github.com/lisbetwade-design/ReviuNew/internal/store"
	"github.com/lisbetwade-design/ReviuNew/internal/vault"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	maxPage         = 10000
	maxBodyBytes    = 1 << 20
)

// OAuthFlow is the PKCE handshake.
type OAuthFlow interface {
	Start(ctx context.Context, ownerID string) (string, error)
	Callback(ctx context.Context, code, state string) (*store.Connection, error)
	Abort(ctx context.Context, state string)
}

// EventHandler processes chat platform deliveries.
type EventHandler interface {
	HandleEvent(ctx context.Context, body []byte) (*slackingest.Ack, error)
}

// FileFetcher reads design file metadata.
type FileFetcher interface {
	File(ctx context.Context, accessToken, fileKey string) (*figma.File, error)
}

// ChannelLister lists the chat channels a workspace token can see.
type ChannelLister interface {
	Channels(ctx context.Context, token string) ([]slackapi.Channel, error)
}

// Deps lists the collaborators of Handler.
type Deps struct {
	Config *config.Config
	Store  *store.Store
	Vault  *vault.Vault
	OAuth  OAuthFlow
	Tokens figmasync.TokenProvider
	Files  FileFetcher
	Sync   figmasync.FileSyncer
	Events EventHandler

	// Channels backs the subscribable channel listing.
	Channels ChannelLister
}

// Handler serves the HTTP endpoints.
type Handler struct {
	cfg       *config.Config
	store     *store.Store
	vault     *vault.Vault
	oauth     OAuthFlow
	tokens    figmasync.TokenProvider
	files     FileFetcher
	sync      figmasync.FileSyncer
	events    EventHandler
	channels  ChannelLister
	templates map[string]*template.Template
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		cfg:       d.Config,
		store:     d.Store,
		vault:     d.Vault,
		oauth:     d.OAuth,
		tokens:    d.Tokens,
		files:     d.Files,
		sync:      d.Sync,
		events:    d.Events,
		channels:  d.Channels,
		templates: templates,
	}
}

func ownerID(r *http.Request) string {
	if u, ok := auth.UserFromContext(r.Context()); ok {
		return u.Subject
	}
	return ""
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", apperr.ErrInvalidInput, err)
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: empty request body", apperr.ErrInvalidInput)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.WithDetails(apperr.ErrInvalidInput, "Invalid JSON body", map[string]any{"error": err.Error()})
	}
	return nil
}

// parsePagination extracts page and limit from query parameters.
func parsePagination(r *http.Request) (page, limit int) {
	page = 1
	limit = defaultPageSize

	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			// Bounded so (page-1)*limit stays a valid OFFSET.
			page = min(parsed, maxPage)
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxPageSize {
			limit = parsed
		}
	}
	return
}

// render executes a template and writes the response.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	tmpl, ok := h.templates[name]
	if !ok {
		httperrors.Write(w, r, fmt.Errorf("template %q not found", name))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		httperrors.LogError(r, "template render failed", err)
	}
}
