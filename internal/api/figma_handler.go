package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
	"github.com/lisbetwade-design/ReviuNew/internal/figma"
	"github.com/lisbetwade-design/ReviuNew/internal/figmasync"
	httperrors "github.com/lisbetwade-design/ReviuNew/internal/http/errors"
	"github.com/lisbetwade-design/ReviuNew/internal/store"
)

type syncRequest struct {
	FileID    string `json:"file_id"`
	FileKey   string `json:"file_key"`
	ProjectID string `json:"project_id"`
}

type syncResponse struct {
	Success       bool                  `json:"success"`
	SyncedCount   int                   `json:"syncedCount"`
	SkippedCount  int                   `json:"skippedCount"`
	TotalComments int                   `json:"totalComments"`
	Errors        []figmasync.ItemError `json:"errors,omitempty"`
}

// Sync pulls the comments of one tracked file on demand.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil {
		httperrors.Write(w, r, err)
		return
	}
	owner := ownerID(r)

	var (
		file *store.TrackedFile
		err  error
	)
	switch {
	case req.FileID != "":
		file, err = h.store.TrackedFiles.GetByID(r.Context(), owner, req.FileID)
	case req.FileKey != "":
		file, err = h.store.TrackedFiles.GetByKey(r.Context(), owner, req.FileKey)
	default:
		httperrors.Write(w, r, fmt.Errorf("%w: file_id or file_key is required", apperr.ErrInvalidInput))
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		httperrors.Write(w, r, apperr.WithDetails(apperr.ErrNotFound, "File not found", nil))
		return
	}
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	if file.ProjectID == nil && req.ProjectID != "" {
		file.ProjectID = &req.ProjectID
	}

	res, err := h.sync.SyncFile(r.Context(), *file)
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	httperrors.JSON(w, http.StatusOK, syncResponse{
		Success:       true,
		SyncedCount:   res.Added,
		SkippedCount:  res.Skipped,
		TotalComments: res.Total,
		Errors:        res.Errors,
	})
}

type preferenceView struct {
	SyncAll            bool `json:"sync_all"`
	SyncUnresolvedOnly bool `json:"sync_unresolved_only"`
}

type trackedFileView struct {
	ID           string          `json:"id"`
	ProjectID    *string         `json:"project_id"`
	FileKey      string          `json:"file_key"`
	FileName     string          `json:"file_name"`
	FileURL      string          `json:"file_url"`
	SyncEnabled  bool            `json:"sync_enabled"`
	LastSyncedAt *time.Time      `json:"last_synced_at"`
	CreatedAt    time.Time       `json:"created_at"`
	Preferences  *preferenceView `json:"preferences"`
}

func newTrackedFileView(f store.TrackedFile) trackedFileView {
	v := trackedFileView{
		ID:           f.ID,
		ProjectID:    f.ProjectID,
		FileKey:      f.FileKey,
		FileName:     f.FileName,
		FileURL:      f.FileURL,
		SyncEnabled:  f.SyncEnabled,
		LastSyncedAt: f.LastSyncedAt,
		CreatedAt:    f.CreatedAt,
	}
	if f.Preference != nil {
		v.Preferences = &preferenceView{SyncAll: f.Preference.SyncAll, SyncUnresolvedOnly: f.Preference.SyncUnresolvedOnly}
	}
	return v
}

// ListFiles returns the caller's tracked files.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.store.TrackedFiles.ListByOwner(r.Context(), ownerID(r))
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	views := make([]trackedFileView, 0, len(files))
	for _, f := range files {
		views = append(views, newTrackedFileView(f))
	}
	httperrors.JSON(w, http.StatusOK, map[string]any{"files": views})
}

type createFileRequest struct {
	FileKey     string          `json:"file_key"`
	FileName    string          `json:"file_name"`
	FileURL     string          `json:"file_url"`
	ProjectID   *string         `json:"project_id"`
	Preferences *preferenceView `json:"preferences"`
}

// CreateFile registers a file for comment sync.
func (h *Handler) CreateFile(w http.ResponseWriter, r *http.Request) {
	var req createFileRequest
	if err := decodeJSON(r, &req); err != nil {
		httperrors.Write(w, r, err)
		return
	}
	req.FileURL = strings.TrimSpace(req.FileURL)
	if req.FileKey == "" && req.FileURL != "" {
		req.FileKey, _ = figma.ExtractFileKey(req.FileURL)
	}
	if req.FileKey == "" {
		httperrors.Write(w, r, fmt.Errorf("%w: file_key or a valid file_url is required", apperr.ErrInvalidInput))
		return
	}
	if req.FileName == "" {
		req.FileName = req.FileKey
	}
	if req.ProjectID != nil && *req.ProjectID == "" {
		req.ProjectID = nil
	}

	file := store.TrackedFile{
		OwnerID:     ownerID(r),
		ProjectID:   req.ProjectID,
		FileKey:     req.FileKey,
		FileName:    req.FileName,
		FileURL:     req.FileURL,
		SyncEnabled: true,
	}
	if req.Preferences != nil {
		file.Preference = &store.SyncPreference{SyncAll: req.Preferences.SyncAll, SyncUnresolvedOnly: req.Preferences.SyncUnresolvedOnly}
	}

	created, err := h.store.TrackedFiles.Create(r.Context(), file)
	if errors.Is(err, store.ErrConflict) {
		httperrors.Write(w, r, apperr.WithDetails(apperr.ErrConflict, "File is already tracked", nil))
		return
	}
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	httperrors.JSON(w, http.StatusCreated, newTrackedFileView(*created))
}

// DeleteFile stops tracking a file owned by the caller.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	err := h.store.TrackedFiles.Delete(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		httperrors.Write(w, r, apperr.WithDetails(apperr.ErrNotFound, "File not found", nil))
		return
	}
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FileInfo resolves a design URL to its key and current name.
func (h *Handler) FileInfo(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	key, ok := figma.ExtractFileKey(rawURL)
	if !ok {
		httperrors.Write(w, r, apperr.WithDetails(apperr.ErrInvalidInput, "Invalid Figma URL", nil))
		return
	}

	conn, err := h.tokens.Connection(r.Context(), ownerID(r), store.ProviderFigma)
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	var file *figma.File
	if _, err := h.tokens.Do(r.Context(), conn, func(ctx context.Context, accessToken string) error {
		var err error
		file, err = h.files.File(ctx, accessToken, key)
		return err
	}); err != nil {
		httperrors.Write(w, r, err)
		return
	}
	httperrors.JSON(w, http.StatusOK, map[string]string{
		"file_key":  key,
		"file_name": file.Name,
		"file_url":  rawURL,
	})
}

type connectionView struct {
	Connected          bool       `json:"connected"`
	ProviderUserID     string     `json:"provider_user_id,omitempty"`
	ProviderUserEmail  *string    `json:"provider_user_email,omitempty"`
	ProviderUserHandle *string    `json:"provider_user_handle,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

// ConnectionStatus reports whether the caller has linked a Figma account.
func (h *Handler) ConnectionStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := h.store.Connections.Get(r.Context(), ownerID(r), store.ProviderFigma)
	if errors.Is(err, store.ErrNotFound) {
		httperrors.JSON(w, http.StatusOK, connectionView{})
		return
	}
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	httperrors.JSON(w, http.StatusOK, connectionView{
		Connected:          true,
		ProviderUserID:     conn.ProviderUserID,
		ProviderUserEmail:  conn.ProviderUserEmail,
		ProviderUserHandle: conn.ProviderUserHandle,
		ExpiresAt:          &conn.ExpiresAt,
	})
}
