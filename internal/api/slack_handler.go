package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
	httperrors "github.com/lisbetwade-design/ReviuNew/internal/http/errors"
	"github.com/lisbetwade-design/ReviuNew/internal/store"
)

// Events receives chat platform deliveries. Anything short of an unreadable
// payload is acknowledged with 200 so the platform stops redelivering.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httperrors.LogError(r, "read event body failed", err)
		httperrors.JSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "failed to read body"})
		return
	}

	ack, err := h.events.HandleEvent(r.Context(), body)
	if err != nil {
		httperrors.LogError(r, "slack event rejected", err)
		httperrors.JSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	httperrors.JSON(w, http.StatusOK, ack)
}

type subscriptionRequest struct {
	TeamID      string   `json:"team_id"`
	Channels    []string `json:"channels"`
	AccessToken string   `json:"access_token"`
}

// PutSubscription stores the caller's workspace and listened channels.
func (h *Handler) PutSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		httperrors.Write(w, r, err)
		return
	}
	req.TeamID = strings.TrimSpace(req.TeamID)
	if req.TeamID == "" || req.AccessToken == "" {
		httperrors.Write(w, r, fmt.Errorf("%w: team_id and access_token are required", apperr.ErrInvalidInput))
		return
	}

	channels := make([]string, 0, len(req.Channels))
	seen := make(map[string]struct{}, len(req.Channels))
	for _, c := range req.Channels {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		channels = append(channels, c)
	}

	token, err := h.vault.Encrypt(req.AccessToken)
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	sub := store.ChatSubscription{
		OwnerID:              ownerID(r),
		TeamID:               req.TeamID,
		Channels:             channels,
		EncryptedAccessToken: token,
		UpdatedAt:            time.Now(),
	}
	if err := h.store.ChatSubscriptions.Upsert(r.Context(), sub); err != nil {
		httperrors.Write(w, r, err)
		return
	}
	httperrors.JSON(w, http.StatusOK, map[string]any{"team_id": sub.TeamID, "channels": sub.Channels})
}

type channelView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPrivate  bool   `json:"is_private"`
	IsMember   bool   `json:"is_member"`
	Subscribed bool   `json:"subscribed"`
}

// SlackChannels lists the channels of the caller's connected workspace,
// marking the ones already listened to.
func (h *Handler) SlackChannels(w http.ResponseWriter, r *http.Request) {
	sub, err := h.store.ChatSubscriptions.Get(r.Context(), ownerID(r))
	if errors.Is(err, store.ErrNotFound) {
		httperrors.Write(w, r, apperr.WithDetails(apperr.ErrNotConnected, "Slack workspace not connected", nil))
		return
	}
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}

	token, err := h.vault.Decrypt(sub.EncryptedAccessToken)
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	chans, err := h.channels.Channels(r.Context(), token)
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}

	views := make([]channelView, 0, len(chans))
	for _, c := range chans {
		views = append(views, channelView{
			ID:         c.ID,
			Name:       c.Name,
			IsPrivate:  c.IsPrivate,
			IsMember:   c.IsMember,
			Subscribed: sub.Listens(c.ID),
		})
	}
	httperrors.JSON(w, http.StatusOK, map[string]any{"team_id": sub.TeamID, "channels": views})
}
