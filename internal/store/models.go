package store

import "time"

// Provider identifies an external OAuth provider.
type Provider string

const ProviderFigma Provider = "figma"

// Source identifies where a feedback item came from.
type Source string

const (
	SourceFigma Source = "figma"
	SourceSlack Source = "slack"
	SourceForm  Source = "form"
)

// Status is the review state of a feedback item.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// DesignSourceType describes how a design entered the system.
type DesignSourceType string

const (
	DesignSourceFigma DesignSourceType = "figma"
	DesignSourceSlack DesignSourceType = "slack"
)

// Connection is a user's authorized link to a provider account. Token fields
// hold Vault blobs only.
type Connection struct {
	OwnerID               string
	Provider              Provider
	EncryptedAccessToken  string
	EncryptedRefreshToken *string
	ExpiresAt             time.Time
	ProviderUserID        string
	ProviderUserEmail     *string
	ProviderUserHandle    *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// PendingAuthorization is the one-time state of an in-flight PKCE flow.
type PendingAuthorization struct {
	State        string
	CodeVerifier string
	OwnerID      string
	Provider     Provider
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Project groups designs for an owner.
type Project struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

// Design is a reviewable asset inside a project.
type Design struct {
	ID         string
	ProjectID  string
	Name       string
	SourceType DesignSourceType
	SourceURL  *string
	CreatedAt  time.Time
}

// SyncPreference narrows which remote comments a tracked file ingests.
type SyncPreference struct {
	SyncAll            bool
	SyncUnresolvedOnly bool
}

// DefaultSyncPreference admits every comment.
func DefaultSyncPreference() SyncPreference {
	return SyncPreference{SyncAll: true}
}

// TrackedFile is a remote design file registered for comment sync.
type TrackedFile struct {
	ID           string
	OwnerID      string
	ProjectID    *string
	FileKey      string
	FileName     string
	FileURL      string
	SyncEnabled  bool
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	Preference   *SyncPreference
}

// FeedbackItem is one unified inbox entry. NaturalKey is unique per owner and source.
type FeedbackItem struct {
	ID                string
	OwnerID           string
	ProjectID         *string
	DesignID          *string
	Content           string
	AuthorName        string
	AuthorIdentityKey string
	Rating            *int
	Status            Status
	Source            Source
	SourceChannel     *string
	SourceChannelName *string
	PositionX         *float64
	PositionY         *float64
	NaturalKey        string
	CreatedAt         time.Time
	ViewedAt          *time.Time
}

// ChatSubscription maps a chat workspace to an owner's listened channels.
type ChatSubscription struct {
	OwnerID              string
	TeamID               string
	Channels             []string
	EncryptedAccessToken string
	UpdatedAt            time.Time
}

// Listens reports whether channel is among the subscribed channels.
func (s ChatSubscription) Listens(channel string) bool {
	for _, c := range s.Channels {
		if c == channel {
			return true
		}
	}
	return false
}
