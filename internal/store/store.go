package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lisbetwade-design/ReviuNew/internal/metrics"
)

// DB is the subset of pgxpool.Pool used by repositories.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Store aggregates repositories backed by PostgreSQL.
type Store struct {
	pool DB

	Connections           ConnectionRepository
	PendingAuthorizations PendingAuthorizationRepository
	Projects              ProjectRepository
	Designs               DesignRepository
	TrackedFiles          TrackedFileRepository
	Feedback              FeedbackRepository
	ChatSubscriptions     ChatSubscriptionRepository
}

// New wires concrete repository implementations with shared connection pool.
func New(pool DB) *Store {
	return &Store{
		pool:                  pool,
		Connections:           &connectionRepo{pool: pool},
		PendingAuthorizations: &pendingAuthorizationRepo{pool: pool},
		Projects:              &projectRepo{pool: pool},
		Designs:               &designRepo{pool: pool},
		TrackedFiles:          &trackedFileRepo{pool: pool},
		Feedback:              &feedbackRepo{pool: pool},
		ChatSubscriptions:     &chatSubscriptionRepo{pool: pool},
	}
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}

// observeDB starts a latency measurement for operation; call the result when
// the statement finishes.
func observeDB(ctx context.Context, operation string) func() {
	start := time.Now()
	return func() { metrics.ObserveDBLatency(ctx, operation, start) }
}
