package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
	httperrors "github.com/lisbetwade-design/ReviuNew/internal/http/errors"
	"github.com/lisbetwade-design/ReviuNew/internal/store"
)

type feedbackView struct {
	ID                string     `json:"id"`
	ProjectID         *string    `json:"project_id"`
	DesignID          *string    `json:"design_id"`
	Content           string     `json:"content"`
	AuthorName        string     `json:"author_name"`
	Rating            *int       `json:"rating"`
	Status            string     `json:"status"`
	Source            string     `json:"source"`
	SourceChannel     *string    `json:"source_channel"`
	SourceChannelName *string    `json:"source_channel_name"`
	PositionX         *float64   `json:"position_x"`
	PositionY         *float64   `json:"position_y"`
	CreatedAt         time.Time  `json:"created_at"`
	ViewedAt          *time.Time `json:"viewed_at"`
}

func newFeedbackView(f store.FeedbackItem) feedbackView {
	return feedbackView{
		ID:                f.ID,
		ProjectID:         f.ProjectID,
		DesignID:          f.DesignID,
		Content:           f.Content,
		AuthorName:        f.AuthorName,
		Rating:            f.Rating,
		Status:            string(f.Status),
		Source:            string(f.Source),
		SourceChannel:     f.SourceChannel,
		SourceChannelName: f.SourceChannelName,
		PositionX:         f.PositionX,
		PositionY:         f.PositionY,
		CreatedAt:         f.CreatedAt,
		ViewedAt:          f.ViewedAt,
	}
}

// Inbox lists the caller's feedback newest first.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r)
	items, err := h.store.Feedback.ListByOwner(r.Context(), ownerID(r), limit, (page-1)*limit)
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	views := make([]feedbackView, 0, len(items))
	for _, it := range items {
		views = append(views, newFeedbackView(it))
	}
	httperrors.JSON(w, http.StatusOK, map[string]any{"items": views, "page": page, "limit": limit})
}

// MarkViewed stamps viewed_at on the first view only.
func (h *Handler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	err := h.store.Feedback.MarkViewed(r.Context(), ownerID(r), chi.URLParam(r, "id"), time.Now())
	if errors.Is(err, store.ErrNotFound) {
		httperrors.Write(w, r, apperr.WithDetails(apperr.ErrNotFound, "Feedback item not found", nil))
		return
	}
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
