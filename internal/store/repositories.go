package store

import (
	"context"
	"time"
)

// ConnectionRepository persists provider connections, one per owner and provider.
type ConnectionRepository interface {
	Get(ctx context.Context, ownerID string, provider Provider) (*Connection, error)
	Upsert(ctx context.Context, conn Connection) error
	// SwapTokens replaces the token fields only if the stored row still matches
	// prev. It reports false when another writer got there first.
	SwapTokens(ctx context.Context, prev Connection, next Connection) (bool, error)
}

// PendingAuthorizationRepository holds one-time PKCE state.
type PendingAuthorizationRepository interface {
	Create(ctx context.Context, pending PendingAuthorization) error
	// Take deletes and returns the row for state. A second Take for the same
	// state returns ErrNotFound.
	Take(ctx context.Context, state string, provider Provider) (*PendingAuthorization, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type ProjectRepository interface {
	First(ctx context.Context, ownerID string) (*Project, error)
}

type DesignRepository interface {
	// EnsureForSource returns the design keyed by (project, source URL),
	// creating it on first use.
	EnsureForSource(ctx context.Context, projectID string, sourceType DesignSourceType, sourceURL, name string) (string, error)
	// EnsureNamed returns the URL-less design keyed by (project, source type, name).
	EnsureNamed(ctx context.Context, projectID string, sourceType DesignSourceType, name string) (string, error)
}

type TrackedFileRepository interface {
	GetByID(ctx context.Context, ownerID, id string) (*TrackedFile, error)
	GetByKey(ctx context.Context, ownerID, fileKey string) (*TrackedFile, error)
	ListByOwner(ctx context.Context, ownerID string) ([]TrackedFile, error)
	ListSyncEnabled(ctx context.Context) ([]TrackedFile, error)
	Create(ctx context.Context, file TrackedFile) (*TrackedFile, error)
	Delete(ctx context.Context, ownerID, id string) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

type FeedbackRepository interface {
	Exists(ctx context.Context, ownerID string, source Source, naturalKey string) (bool, error)
	// Insert stores item unless its natural key is already present. It reports
	// whether a row was written.
	Insert(ctx context.Context, item FeedbackItem) (bool, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]FeedbackItem, error)
	MarkViewed(ctx context.Context, ownerID, id string, at time.Time) error
}

type ChatSubscriptionRepository interface {
	// Get returns ErrNotFound when ownerID has not connected a workspace.
	Get(ctx context.Context, ownerID string) (*ChatSubscription, error)
	ListByTeam(ctx context.Context, teamID string) ([]ChatSubscription, error)
	Upsert(ctx context.Context, sub ChatSubscription) error
}
