package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// connectionRepo implements ConnectionRepository.
type connectionRepo struct {
	pool DB
}

func (r *connectionRepo) Get(ctx context.Context, ownerID string, provider Provider) (*Connection, error) {
	defer observeDB(ctx, "connections.get")()

	const q = `SELECT owner_id, provider, encrypted_access_token, encrypted_refresh_token, expires_at,
        provider_user_id, provider_user_email, provider_user_handle, created_at, updated_at
FROM connections WHERE owner_id=$1 AND provider=$2`

	var (
		conn         Connection
		providerName string
	)
	err := r.pool.QueryRow(ctx, q, ownerID, string(provider)).Scan(
		&conn.OwnerID, &providerName, &conn.EncryptedAccessToken, &conn.EncryptedRefreshToken, &conn.ExpiresAt,
		&conn.ProviderUserID, &conn.ProviderUserEmail, &conn.ProviderUserHandle, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", mapError(err))
	}
	conn.Provider = Provider(providerName)
	return &conn, nil
}

func (r *connectionRepo) Upsert(ctx context.Context, conn Connection) error {
	defer observeDB(ctx, "connections.upsert")()

	const q = `INSERT INTO connections (owner_id, provider, encrypted_access_token, encrypted_refresh_token,
        expires_at, provider_user_id, provider_user_email, provider_user_handle)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (owner_id, provider) DO UPDATE SET
        encrypted_access_token = EXCLUDED.encrypted_access_token,
        encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
        expires_at = EXCLUDED.expires_at,
        provider_user_id = EXCLUDED.provider_user_id,
        provider_user_email = EXCLUDED.provider_user_email,
        provider_user_handle = EXCLUDED.provider_user_handle,
        updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, q,
		conn.OwnerID, string(conn.Provider), conn.EncryptedAccessToken, conn.EncryptedRefreshToken,
		conn.ExpiresAt, conn.ProviderUserID, conn.ProviderUserEmail, conn.ProviderUserHandle,
	); err != nil {
		return fmt.Errorf("upsert connection: %w", mapError(err))
	}
	return nil
}

func (r *connectionRepo) SwapTokens(ctx context.Context, prev Connection, next Connection) (bool, error) {
	defer observeDB(ctx, "connections.swap_tokens")()

	// Vault blobs carry a random nonce, so the stored access blob identifies
	// the exact row version that was read.
	const q = `UPDATE connections
SET encrypted_access_token=$1, encrypted_refresh_token=$2, expires_at=$3, updated_at=NOW()
WHERE owner_id=$4 AND provider=$5 AND encrypted_access_token=$6`

	tag, err := r.pool.Exec(ctx, q,
		next.EncryptedAccessToken, next.EncryptedRefreshToken, next.ExpiresAt,
		prev.OwnerID, string(prev.Provider), prev.EncryptedAccessToken,
	)
	if err != nil {
		return false, fmt.Errorf("swap connection tokens: %w", mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// pendingAuthorizationRepo implements PendingAuthorizationRepository.
type pendingAuthorizationRepo struct {
	pool DB
}

func (r *pendingAuthorizationRepo) Create(ctx context.Context, p PendingAuthorization) error {
	defer observeDB(ctx, "pending_authorizations.create")()

	const q = `INSERT INTO pending_authorizations (state, code_verifier, owner_id, provider, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.pool.Exec(ctx, q, p.State, p.CodeVerifier, p.OwnerID, string(p.Provider), p.ExpiresAt); err != nil {
		return fmt.Errorf("create pending authorization: %w", mapError(err))
	}
	return nil
}

func (r *pendingAuthorizationRepo) Take(ctx context.Context, state string, provider Provider) (*PendingAuthorization, error) {
	defer observeDB(ctx, "pending_authorizations.take")()

	const q = `DELETE FROM pending_authorizations WHERE state=$1 AND provider=$2
RETURNING state, code_verifier, owner_id, provider, expires_at, created_at`

	var (
		p            PendingAuthorization
		providerName string
	)
	err := r.pool.QueryRow(ctx, q, state, string(provider)).Scan(
		&p.State, &p.CodeVerifier, &p.OwnerID, &providerName, &p.ExpiresAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("take pending authorization: %w", mapError(err))
	}
	p.Provider = Provider(providerName)
	return &p, nil
}

func (r *pendingAuthorizationRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	defer observeDB(ctx, "pending_authorizations.delete_expired")()

	tag, err := r.pool.Exec(ctx, `DELETE FROM pending_authorizations WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired pending authorizations: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}

// projectRepo implements ProjectRepository.
type projectRepo struct {
	pool DB
}

func (r *projectRepo) First(ctx context.Context, ownerID string) (*Project, error) {
	defer observeDB(ctx, "projects.first")()

	const q = `SELECT id, owner_id, name, created_at FROM projects
WHERE owner_id=$1 ORDER BY created_at ASC, id ASC LIMIT 1`

	var p Project
	if err := r.pool.QueryRow(ctx, q, ownerID).Scan(&p.ID, &p.OwnerID, &p.Name, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("first project: %w", mapError(err))
	}
	return &p, nil
}

// designRepo implements DesignRepository.
type designRepo struct {
	pool DB
}

func (r *designRepo) EnsureForSource(ctx context.Context, projectID string, sourceType DesignSourceType, sourceURL, name string) (string, error) {
	defer observeDB(ctx, "designs.ensure_for_source")()

	// The no-op update makes RETURNING yield the existing id on conflict.
	const q = `INSERT INTO designs (id, project_id, name, source_type, source_url)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (project_id, source_url) DO UPDATE SET source_url = EXCLUDED.source_url
RETURNING id`

	var id string
	if err := r.pool.QueryRow(ctx, q, uuid.NewString(), projectID, name, string(sourceType), sourceURL).Scan(&id); err != nil {
		return "", fmt.Errorf("ensure design for source: %w", mapError(err))
	}
	return id, nil
}

func (r *designRepo) EnsureNamed(ctx context.Context, projectID string, sourceType DesignSourceType, name string) (string, error) {
	defer observeDB(ctx, "designs.ensure_named")()

	const q = `INSERT INTO designs (id, project_id, name, source_type, source_url)
VALUES ($1, $2, $3, $4, NULL)
ON CONFLICT (project_id, source_type, name) WHERE source_url IS NULL DO UPDATE SET name = EXCLUDED.name
RETURNING id`

	var id string
	if err := r.pool.QueryRow(ctx, q, uuid.NewString(), projectID, name, string(sourceType)).Scan(&id); err != nil {
		return "", fmt.Errorf("ensure named design: %w", mapError(err))
	}
	return id, nil
}

// trackedFileRepo implements TrackedFileRepository.
type trackedFileRepo struct {
	pool DB
}

const trackedFileColumns = `f.id, f.owner_id, f.project_id, f.file_key, f.file_name, f.file_url,
        f.sync_enabled, f.last_synced_at, f.created_at, p.sync_all, p.sync_unresolved_only`

const trackedFileFrom = `FROM tracked_files f LEFT JOIN sync_preferences p ON p.tracked_file_id = f.id`

func scanTrackedFile(row pgx.Row) (*TrackedFile, error) {
	var (
		f              TrackedFile
		syncAll        *bool
		unresolvedOnly *bool
	)
	if err := row.Scan(
		&f.ID, &f.OwnerID, &f.ProjectID, &f.FileKey, &f.FileName, &f.FileURL,
		&f.SyncEnabled, &f.LastSyncedAt, &f.CreatedAt, &syncAll, &unresolvedOnly,
	); err != nil {
		return nil, err
	}
	if syncAll != nil {
		f.Preference = &SyncPreference{SyncAll: *syncAll}
		if unresolvedOnly != nil {
			f.Preference.SyncUnresolvedOnly = *unresolvedOnly
		}
	}
	return &f, nil
}

func (r *trackedFileRepo) GetByID(ctx context.Context, ownerID, id string) (*TrackedFile, error) {
	defer observeDB(ctx, "tracked_files.get_by_id")()

	q := `SELECT ` + trackedFileColumns + ` ` + trackedFileFrom + ` WHERE f.owner_id=$1 AND f.id=$2`
	f, err := scanTrackedFile(r.pool.QueryRow(ctx, q, ownerID, id))
	if err != nil {
		return nil, fmt.Errorf("get tracked file: %w", mapError(err))
	}
	return f, nil
}

func (r *trackedFileRepo) GetByKey(ctx context.Context, ownerID, fileKey string) (*TrackedFile, error) {
	defer observeDB(ctx, "tracked_files.get_by_key")()

	q := `SELECT ` + trackedFileColumns + ` ` + trackedFileFrom + ` WHERE f.owner_id=$1 AND f.file_key=$2`
	f, err := scanTrackedFile(r.pool.QueryRow(ctx, q, ownerID, fileKey))
	if err != nil {
		return nil, fmt.Errorf("get tracked file by key: %w", mapError(err))
	}
	return f, nil
}

func (r *trackedFileRepo) ListByOwner(ctx context.Context, ownerID string) ([]TrackedFile, error) {
	defer observeDB(ctx, "tracked_files.list_by_owner")()

	q := `SELECT ` + trackedFileColumns + ` ` + trackedFileFrom + ` WHERE f.owner_id=$1 ORDER BY f.created_at DESC`
	return r.list(ctx, q, ownerID)
}

func (r *trackedFileRepo) ListSyncEnabled(ctx context.Context) ([]TrackedFile, error) {
	defer observeDB(ctx, "tracked_files.list_sync_enabled")()

	q := `SELECT ` + trackedFileColumns + ` ` + trackedFileFrom + ` WHERE f.sync_enabled ORDER BY f.last_synced_at ASC NULLS FIRST`
	return r.list(ctx, q)
}

func (r *trackedFileRepo) list(ctx context.Context, q string, args ...any) ([]TrackedFile, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracked files: %w", mapError(err))
	}
	defer rows.Close()

	var files []TrackedFile
	for rows.Next() {
		f, err := scanTrackedFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracked file: %w", err)
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked files: %w", err)
	}
	return files, nil
}

func (r *trackedFileRepo) Create(ctx context.Context, file TrackedFile) (*TrackedFile, error) {
	defer observeDB(ctx, "tracked_files.create")()

	if file.ID == "" {
		file.ID = uuid.NewString()
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin create tracked file: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertFile = `INSERT INTO tracked_files (id, owner_id, project_id, file_key, file_name, file_url, sync_enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`
	if err := tx.QueryRow(ctx, insertFile,
		file.ID, file.OwnerID, file.ProjectID, file.FileKey, file.FileName, file.FileURL, file.SyncEnabled,
	).Scan(&file.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert tracked file: %w", mapError(err))
	}

	if file.Preference != nil {
		const insertPref = `INSERT INTO sync_preferences (tracked_file_id, sync_all, sync_unresolved_only)
VALUES ($1, $2, $3)`
		if _, err := tx.Exec(ctx, insertPref, file.ID, file.Preference.SyncAll, file.Preference.SyncUnresolvedOnly); err != nil {
			return nil, fmt.Errorf("insert sync preference: %w", mapError(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tracked file: %w", err)
	}
	return &file, nil
}

func (r *trackedFileRepo) Delete(ctx context.Context, ownerID, id string) error {
	defer observeDB(ctx, "tracked_files.delete")()

	tag, err := r.pool.Exec(ctx, `DELETE FROM tracked_files WHERE owner_id=$1 AND id=$2`, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete tracked file: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *trackedFileRepo) MarkSynced(ctx context.Context, id string, at time.Time) error {
	defer observeDB(ctx, "tracked_files.mark_synced")()

	if _, err := r.pool.Exec(ctx, `UPDATE tracked_files SET last_synced_at=$2 WHERE id=$1`, id, at); err != nil {
		return fmt.Errorf("mark tracked file synced: %w", mapError(err))
	}
	return nil
}

// feedbackRepo implements FeedbackRepository.
type feedbackRepo struct {
	pool DB
}

func (r *feedbackRepo) Exists(ctx context.Context, ownerID string, source Source, naturalKey string) (bool, error) {
	defer observeDB(ctx, "feedback.exists")()

	const q = `SELECT EXISTS (SELECT 1 FROM feedback_items WHERE owner_id=$1 AND source=$2 AND natural_key=$3)`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, ownerID, string(source), naturalKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("check feedback exists: %w", mapError(err))
	}
	return exists, nil
}

func (r *feedbackRepo) Insert(ctx context.Context, item FeedbackItem) (bool, error) {
	defer observeDB(ctx, "feedback.insert")()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = StatusOpen
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO feedback_items (id, owner_id, project_id, design_id, content, author_name,
        author_identity_key, rating, status, source, source_channel, source_channel_name,
        position_x, position_y, natural_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (owner_id, source, natural_key) DO NOTHING
RETURNING id`

	var id string
	err := r.pool.QueryRow(ctx, q,
		item.ID, item.OwnerID, item.ProjectID, item.DesignID, item.Content, item.AuthorName,
		item.AuthorIdentityKey, item.Rating, string(item.Status), string(item.Source), item.SourceChannel, item.SourceChannelName,
		item.PositionX, item.PositionY, item.NaturalKey, item.CreatedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// ON CONFLICT DO NOTHING returns no row for duplicates.
			return false, nil
		}
		return false, fmt.Errorf("insert feedback: %w", mapError(err))
	}
	return true, nil
}

func (r *feedbackRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]FeedbackItem, error) {
	defer observeDB(ctx, "feedback.list_by_owner")()

	const q = `SELECT id, owner_id, project_id, design_id, content, author_name, author_identity_key, rating,
        status, source, source_channel, source_channel_name, position_x, position_y, natural_key,
        created_at, viewed_at
FROM feedback_items WHERE owner_id=$1
ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, q, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", mapError(err))
	}
	defer rows.Close()

	var items []FeedbackItem
	for rows.Next() {
		var (
			item           FeedbackItem
			status, source string
		)
		if err := rows.Scan(
			&item.ID, &item.OwnerID, &item.ProjectID, &item.DesignID, &item.Content, &item.AuthorName,
			&item.AuthorIdentityKey, &item.Rating, &status, &source, &item.SourceChannel, &item.SourceChannelName,
			&item.PositionX, &item.PositionY, &item.NaturalKey, &item.CreatedAt, &item.ViewedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		item.Status = Status(status)
		item.Source = Source(source)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return items, nil
}

func (r *feedbackRepo) MarkViewed(ctx context.Context, ownerID, id string, at time.Time) error {
	defer observeDB(ctx, "feedback.mark_viewed")()

	const q = `UPDATE feedback_items SET viewed_at = COALESCE(viewed_at, $3) WHERE owner_id=$1 AND id=$2`
	tag, err := r.pool.Exec(ctx, q, ownerID, id, at)
	if err != nil {
		return fmt.Errorf("mark feedback viewed: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// chatSubscriptionRepo implements ChatSubscriptionRepository.
type chatSubscriptionRepo struct {
	pool DB
}

func (r *chatSubscriptionRepo) Get(ctx context.Context, ownerID string) (*ChatSubscription, error) {
	defer observeDB(ctx, "chat_subscriptions.get")()

	const q = `SELECT owner_id, team_id, channels, encrypted_access_token, updated_at
FROM chat_subscriptions WHERE owner_id=$1`

	var sub ChatSubscription
	err := r.pool.QueryRow(ctx, q, ownerID).Scan(&sub.OwnerID, &sub.TeamID, &sub.Channels, &sub.EncryptedAccessToken, &sub.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get chat subscription: %w", mapError(err))
	}
	return &sub, nil
}

func (r *chatSubscriptionRepo) ListByTeam(ctx context.Context, teamID string) ([]ChatSubscription, error) {
	defer observeDB(ctx, "chat_subscriptions.list_by_team")()

	const q = `SELECT owner_id, team_id, channels, encrypted_access_token, updated_at
FROM chat_subscriptions WHERE team_id=$1 ORDER BY owner_id`

	rows, err := r.pool.Query(ctx, q, teamID)
	if err != nil {
		return nil, fmt.Errorf("list chat subscriptions: %w", mapError(err))
	}
	defer rows.Close()

	var subs []ChatSubscription
	for rows.Next() {
		var sub ChatSubscription
		if err := rows.Scan(&sub.OwnerID, &sub.TeamID, &sub.Channels, &sub.EncryptedAccessToken, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat subscriptions: %w", err)
	}
	return subs, nil
}

func (r *chatSubscriptionRepo) Upsert(ctx context.Context, sub ChatSubscription) error {
	defer observeDB(ctx, "chat_subscriptions.upsert")()

	const q = `INSERT INTO chat_subscriptions (owner_id, team_id, channels, encrypted_access_token)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner_id) DO UPDATE SET
        team_id = EXCLUDED.team_id,
        channels = EXCLUDED.channels,
        encrypted_access_token = EXCLUDED.encrypted_access_token,
        updated_at = NOW()`

	channels := sub.Channels
	if channels == nil {
		channels = []string{}
	}
	if _, err := r.pool.Exec(ctx, q, sub.OwnerID, sub.TeamID, channels, sub.EncryptedAccessToken); err != nil {
		return fmt.Errorf("upsert chat subscription: %w", mapError(err))
	}
	return nil
}
