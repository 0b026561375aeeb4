// Package figmasync pulls comments from tracked Figma files into the feedback
// store without duplicating anything already ingested.
package figmasync

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lisbetwade-design/ReviuNew/internal/figma"
	"github.com/lisbetwade-design/ReviuNew/internal/metrics"
	"github.com/lisbetwade-design/ReviuNew/internal/store"
)

// CommentLister lists the comments of one file.
type CommentLister interface {
	FileComments(ctx context.Context, accessToken, fileKey string) ([]figma.Comment, error)
}

// TokenProvider yields connections and runs calls with refresh-on-rejection.
type TokenProvider interface {
	Connection(ctx context.Context, ownerID string, provider store.Provider) (*store.Connection, error)
	Do(ctx context.Context, conn *store.Connection, call func(ctx context.Context, accessToken string) error) (*store.Connection, error)
}

// ItemError records one comment that could not be stored.
type ItemError struct {
	CommentID string `json:"comment_id"`
	Error     string `json:"error"`
}

// Result summarises one file sync.
type Result struct {
	Added    int
	Skipped  int
	Filtered int
	Total    int
	Errors   []ItemError
}

type Reconciler struct {
	tokens      TokenProvider
	comments    CommentLister
	files       store.TrackedFileRepository
	designs     store.DesignRepository
	feedback    store.FeedbackRepository
	parallelism int
	locks       stripedLock
	logger      *zap.Logger
	now         func() time.Time
}

func NewReconciler(tokens TokenProvider, comments CommentLister, st *store.Store, parallelism int, logger *zap.Logger) *Reconciler {
	if parallelism < 1 {
		parallelism = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		tokens:      tokens,
		comments:    comments,
		files:       st.TrackedFiles,
		designs:     st.Designs,
		feedback:    st.Feedback,
		parallelism: parallelism,
		logger:      logger,
		now:         time.Now,
	}
}

// SyncFile stores every admitted comment of file not yet ingested for its
// owner. Failures on single comments are collected in the result.
func (r *Reconciler) SyncFile(ctx context.Context, file store.TrackedFile) (*Result, error) {
	logger := r.logger.With(zap.String("owner_id", file.OwnerID), zap.String("file_key", file.FileKey))

	conn, err := r.tokens.Connection(ctx, file.OwnerID, store.ProviderFigma)
	if err != nil {
		return nil, err
	}
	var comments []figma.Comment
	if _, err := r.tokens.Do(ctx, conn, func(ctx context.Context, accessToken string) error {
		var err error
		comments, err = r.comments.FileComments(ctx, accessToken, file.FileKey)
		return err
	}); err != nil {
		return nil, fmt.Errorf("list comments for %s: %w", file.FileKey, err)
	}

	pref := store.DefaultSyncPreference()
	if file.Preference != nil {
		pref = *file.Preference
	}

	res := &Result{Total: len(comments)}
	var mu sync.Mutex
	design := sync.OnceValue(func() *string { return r.design(ctx, file, logger) })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, c := range comments {
		if !admit(pref, c) {
			mu.Lock()
			res.Filtered++
			mu.Unlock()
			metrics.ObserveFeedback(string(store.SourceFigma), metrics.OutcomeFiltered)
			continue
		}
		g.Go(func() error {
			added, err := r.ingest(gctx, file, c, design)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				logger.Warn("comment ingestion failed", zap.String("comment_id", c.ID), zap.Error(err))
				res.Errors = append(res.Errors, ItemError{CommentID: c.ID, Error: err.Error()})
				metrics.ObserveFeedback(string(store.SourceFigma), metrics.OutcomeFailed)
			case added:
				res.Added++
				metrics.ObserveFeedback(string(store.SourceFigma), metrics.OutcomeAdded)
			default:
				res.Skipped++
				metrics.ObserveFeedback(string(store.SourceFigma), metrics.OutcomeSkipped)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := r.files.MarkSynced(ctx, file.ID, r.now()); err != nil {
		logger.Warn("mark file synced failed", zap.Error(err))
	}
	logger.Info("figma file synced",
		zap.Int("added", res.Added),
		zap.Int("skipped", res.Skipped),
		zap.Int("filtered", res.Filtered),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

func admit(pref store.SyncPreference, c figma.Comment) bool {
	if pref.SyncUnresolvedOnly && c.Resolved() {
		return false
	}
	return true
}

// design resolves the file's design once per run. A failure leaves new items
// unassigned.
func (r *Reconciler) design(ctx context.Context, file store.TrackedFile, logger *zap.Logger) *string {
	if file.ProjectID == nil {
		return nil
	}
	id, err := r.designs.EnsureForSource(ctx, *file.ProjectID, store.DesignSourceFigma, file.FileURL, file.FileName)
	if err != nil {
		logger.Warn("resolve design failed", zap.Error(err))
		return nil
	}
	return &id
}

func (r *Reconciler) ingest(ctx context.Context, file store.TrackedFile, c figma.Comment, design func() *string) (bool, error) {
	unlock := r.locks.lock(file.OwnerID + "/" + c.ID)
	defer unlock()

	exists, err := r.feedback.Exists(ctx, file.OwnerID, store.SourceFigma, c.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	status := store.StatusOpen
	if c.Resolved() {
		status = store.StatusResolved
	}
	author := c.User.Handle
	if author == "" {
		author = c.User.Email
	}
	x, y := c.Position()
	created := c.CreatedAt
	if created.IsZero() {
		created = r.now()
	}

	return r.feedback.Insert(ctx, store.FeedbackItem{
		OwnerID:           file.OwnerID,
		ProjectID:         file.ProjectID,
		DesignID:          design(),
		Content:           c.Message,
		AuthorName:        author,
		AuthorIdentityKey: "figma:" + c.User.ID,
		Status:            status,
		Source:            store.SourceFigma,
		SourceChannel:     &file.FileKey,
		SourceChannelName: &file.FileName,
		PositionX:         x,
		PositionY:         y,
		NaturalKey:        c.ID,
		CreatedAt:         created,
	})
}

// stripedLock serialises work per key with a fixed set of mutexes.
type stripedLock struct {
	stripes [64]sync.Mutex
}

func (s *stripedLock) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &s.stripes[h.Sum32()%uint32(len(s.stripes))]
	m.Lock()
	return m.Unlock
}
