package figmasync

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lisbetwade-design/ReviuNew/internal/store"
)

// FileSyncer syncs one tracked file.
type FileSyncer interface {
	SyncFile(ctx context.Context, file store.TrackedFile) (*Result, error)
}

// Scheduler periodically syncs every sync-enabled file and clears expired
// authorization state.
type Scheduler struct {
	syncer      FileSyncer
	files       store.TrackedFileRepository
	pending     store.PendingAuthorizationRepository
	interval    time.Duration
	parallelism int
	logger      *zap.Logger
	now         func() time.Time
}

func NewScheduler(syncer FileSyncer, st *store.Store, interval time.Duration, parallelism int, logger *zap.Logger) *Scheduler {
	if parallelism < 1 {
		parallelism = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		syncer:      syncer,
		files:       st.TrackedFiles,
		pending:     st.PendingAuthorizations,
		interval:    interval,
		parallelism: parallelism,
		logger:      logger,
		now:         time.Now,
	}
}

// Run blocks until ctx is done. A zero interval disables scheduling.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("scheduled sync disabled")
		return
	}
	s.RunCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RunCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		}
	}
}

// RunCycle performs one pass over all sync-enabled files.
func (s *Scheduler) RunCycle(ctx context.Context) {
	files, err := s.files.ListSyncEnabled(ctx)
	if err != nil {
		s.logger.Error("list sync-enabled files failed", zap.Error(err))
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.parallelism)
		for _, f := range files {
			g.Go(func() error {
				if _, err := s.syncer.SyncFile(gctx, f); err != nil {
					s.logger.Warn("scheduled sync failed",
						zap.String("owner_id", f.OwnerID),
						zap.String("file_key", f.FileKey),
						zap.Error(err),
					)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	n, err := s.pending.DeleteExpired(ctx, s.now())
	if err != nil {
		s.logger.Warn("delete expired authorizations failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("expired authorizations removed", zap.Int64("count", n))
	}
}
