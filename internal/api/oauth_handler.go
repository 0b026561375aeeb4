package api

import (
	"errors"
	"net/http"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
	httperrors "github.com/lisbetwade-design/ReviuNew/internal/http/errors"
)

// StartOAuth returns the consent URL for the authenticated caller.
func (h *Handler) StartOAuth(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.oauth.Start(r.Context(), ownerID(r))
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	httperrors.JSON(w, http.StatusOK, map[string]string{"authorization_url": authURL})
}

type oauthResult struct {
	Title        string
	Message      string
	Success      bool
	Payload      map[string]any
	TargetOrigin string
}

// OAuthCallback completes the handshake and renders a page that notifies the
// opening window.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")

	if providerErr := q.Get("error"); providerErr != "" {
		h.oauth.Abort(r.Context(), state)
		description := q.Get("error_description")
		if description == "" {
			description = providerErr
		}
		h.renderOAuthError(w, r, http.StatusBadRequest, "Authorization was not completed", description)
		return
	}

	if _, err := h.oauth.Callback(r.Context(), q.Get("code"), state); err != nil {
		httperrors.LogError(r, "oauth callback failed", err)
		h.renderOAuthError(w, r, apperr.Status(err), callbackMessage(err), apperr.Message(err))
		return
	}

	h.render(w, r, http.StatusOK, "oauth_result.html", oauthResult{
		Title:        "Figma connected",
		Message:      "Your Figma account is connected. You can return to Reviu.",
		Success:      true,
		Payload:      map[string]any{"type": "oauth-success", "provider": "figma"},
		TargetOrigin: h.openerOrigin(),
	})
}

func (h *Handler) renderOAuthError(w http.ResponseWriter, r *http.Request, status int, message, reason string) {
	h.render(w, r, status, "oauth_result.html", oauthResult{
		Title:        "Connection failed",
		Message:      message,
		Payload:      map[string]any{"type": "oauth-error", "provider": "figma", "error": reason},
		TargetOrigin: h.openerOrigin(),
	})
}

func callbackMessage(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInvalidState):
		return "This authorization link is invalid. Please start again."
	case errors.Is(err, apperr.ErrStateExpired):
		return "This authorization link has expired. Please start again."
	case errors.Is(err, apperr.ErrTokenExchangeFailed):
		return "Figma did not accept the authorization code."
	case errors.Is(err, apperr.ErrProfileFetchFailed):
		return "Could not read your Figma profile."
	default:
		return "Something went wrong while saving the connection."
	}
}

// openerOrigin is the postMessage target: the first configured CORS origin
// unless origins are unrestricted.
func (h *Handler) openerOrigin() string {
	if h.cfg != nil && len(h.cfg.CORS.AllowedOrigins) > 0 && h.cfg.CORS.AllowedOrigins[0] != "*" {
		return h.cfg.CORS.AllowedOrigins[0]
	}
	return "*"
}
