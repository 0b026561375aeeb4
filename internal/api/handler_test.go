package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
	"github.com/lisbetwade-design/ReviuNew/internal/auth"
	"github.com/lisbetwade-design/ReviuNew/internal/config"
	"github.com/lisbetwade-design/ReviuNew/internal/figma"
	"github.com/lisbetwade-design/ReviuNew/internal/figmasync"
	"github.com/lisbetwade-design/ReviuNew/internal/slackapi"
	"github.com/lisbetwade-design/ReviuNew/internal/slackingest"
	"github.com/lisbetwade-design/ReviuNew/internal/store"
	"github.com/lisbetwade-design/ReviuNew/internal/vault"
)

type fakeFiles struct {
	mu   sync.Mutex
	rows map[string]store.TrackedFile
	next int
}

func (f *fakeFiles) GetByID(ctx context.Context, ownerID, id string) (*store.TrackedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.rows[id]
	if !ok || file.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return &file, nil
}

func (f *fakeFiles) GetByKey(ctx context.Context, ownerID, fileKey string) (*store.TrackedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.rows {
		if file.OwnerID == ownerID && file.FileKey == fileKey {
			return &file, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeFiles) ListByOwner(ctx context.Context, ownerID string) ([]store.TrackedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.TrackedFile
	for _, file := range f.rows {
		if file.OwnerID == ownerID {
			out = append(out, file)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeFiles) ListSyncEnabled(ctx context.Context) ([]store.TrackedFile, error) {
	return nil, nil
}

func (f *fakeFiles) Create(ctx context.Context, file store.TrackedFile) (*store.TrackedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.OwnerID == file.OwnerID && existing.FileKey == file.FileKey {
			return nil, store.ErrConflict
		}
	}
	f.next++
	file.ID = "file-" + string(rune('0'+f.next))
	file.CreatedAt = time.Now()
	f.rows[file.ID] = file
	return &file, nil
}

func (f *fakeFiles) Delete(ctx context.Context, ownerID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.rows[id]
	if !ok || file.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeFiles) MarkSynced(ctx context.Context, id string, at time.Time) error { return nil }

type fakeFeedback struct {
	mu         sync.Mutex
	items      []store.FeedbackItem
	lastOffset int
}

func (f *fakeFeedback) Exists(ctx context.Context, ownerID string, source store.Source, naturalKey string) (bool, error) {
	return false, nil
}

func (f *fakeFeedback) Insert(ctx context.Context, item store.FeedbackItem) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	return true, nil
}

func (f *fakeFeedback) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]store.FeedbackItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOffset = offset
	if offset < 0 {
		return nil, errors.New("negative offset")
	}
	var owned []store.FeedbackItem
	for _, it := range f.items {
		if it.OwnerID == ownerID {
			owned = append(owned, it)
		}
	}
	if offset >= len(owned) {
		return nil, nil
	}
	end := offset + limit
	if end > len(owned) {
		end = len(owned)
	}
	return owned[offset:end], nil
}

func (f *fakeFeedback) MarkViewed(ctx context.Context, ownerID, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].OwnerID == ownerID && f.items[i].ID == id {
			if f.items[i].ViewedAt == nil {
				f.items[i].ViewedAt = &at
			}
			return nil
		}
	}
	return store.ErrNotFound
}

type fakeConns struct {
	rows map[string]store.Connection
}

func (f *fakeConns) Get(ctx context.Context, ownerID string, provider store.Provider) (*store.Connection, error) {
	c, ok := f.rows[ownerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (f *fakeConns) Upsert(ctx context.Context, conn store.Connection) error {
	f.rows[conn.OwnerID] = conn
	return nil
}

func (f *fakeConns) SwapTokens(ctx context.Context, prev, next store.Connection) (bool, error) {
	return false, nil
}

type fakeSubs struct {
	rows map[string]store.ChatSubscription
}

func (f *fakeSubs) Get(ctx context.Context, ownerID string) (*store.ChatSubscription, error) {
	sub, ok := f.rows[ownerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sub, nil
}

func (f *fakeSubs) ListByTeam(ctx context.Context, teamID string) ([]store.ChatSubscription, error) {
	return nil, nil
}

func (f *fakeSubs) Upsert(ctx context.Context, sub store.ChatSubscription) error {
	f.rows[sub.OwnerID] = sub
	return nil
}

type fakeChannels struct {
	chans    []slackapi.Channel
	err      error
	gotToken string
}

func (f *fakeChannels) Channels(ctx context.Context, token string) ([]slackapi.Channel, error) {
	f.gotToken = token
	if f.err != nil {
		return nil, f.err
	}
	return f.chans, nil
}

type fakeOAuth struct {
	startURL    string
	startErr    error
	callbackErr error
	aborted     []string
	gotCode     string
}

func (f *fakeOAuth) Start(ctx context.Context, ownerID string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.startURL + "&owner=" + ownerID, nil
}

func (f *fakeOAuth) Callback(ctx context.Context, code, state string) (*store.Connection, error) {
	f.gotCode = code
	if f.callbackErr != nil {
		return nil, f.callbackErr
	}
	return &store.Connection{OwnerID: "U1"}, nil
}

func (f *fakeOAuth) Abort(ctx context.Context, state string) {
	f.aborted = append(f.aborted, state)
}

type fakeSyncer struct {
	got    []store.TrackedFile
	result *figmasync.Result
	err    error
}

func (f *fakeSyncer) SyncFile(ctx context.Context, file store.TrackedFile) (*figmasync.Result, error) {
	f.got = append(f.got, file)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeTokens struct {
	conn     *store.Connection
	connErr  error
	attempts int
}

func (f *fakeTokens) Connection(ctx context.Context, ownerID string, provider store.Provider) (*store.Connection, error) {
	if f.connErr != nil {
		return nil, f.connErr
	}
	return f.conn, nil
}

func (f *fakeTokens) Do(ctx context.Context, conn *store.Connection, call func(ctx context.Context, accessToken string) error) (*store.Connection, error) {
	f.attempts++
	err := call(ctx, "access-1")
	if errors.Is(err, apperr.ErrTokenRejected) {
		f.attempts++
		err = call(ctx, "access-2")
	}
	return conn, err
}

type fakeFileFetcher struct {
	tokens []string
	reject string
}

func (f *fakeFileFetcher) File(ctx context.Context, accessToken, fileKey string) (*figma.File, error) {
	f.tokens = append(f.tokens, accessToken)
	if accessToken == f.reject {
		return nil, apperr.ErrTokenRejected
	}
	return &figma.File{Name: "Checkout " + fileKey}, nil
}

type fakeEvents struct {
	ack  *slackingest.Ack
	err  error
	body []byte
}

func (f *fakeEvents) HandleEvent(ctx context.Context, body []byte) (*slackingest.Ack, error) {
	f.body = body
	return f.ack, f.err
}

type fixture struct {
	h        *Handler
	files    *fakeFiles
	feedback *fakeFeedback
	conns    *fakeConns
	subs     *fakeSubs
	oauth    *fakeOAuth
	syncer   *fakeSyncer
	tokens   *fakeTokens
	fetcher  *fakeFileFetcher
	events   *fakeEvents
	channels *fakeChannels
	vault    *vault.Vault
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	v, err := vault.New("api-test-secret")
	require.NoError(t, err)

	fx := &fixture{
		files:    &fakeFiles{rows: map[string]store.TrackedFile{}},
		feedback: &fakeFeedback{},
		conns:    &fakeConns{rows: map[string]store.Connection{}},
		subs:     &fakeSubs{rows: map[string]store.ChatSubscription{}},
		oauth:    &fakeOAuth{startURL: "https://www.figma.com/oauth?state=s"},
		syncer:   &fakeSyncer{result: &figmasync.Result{}},
		tokens:   &fakeTokens{conn: &store.Connection{OwnerID: "U1"}},
		fetcher:  &fakeFileFetcher{},
		events:   &fakeEvents{ack: &slackingest.Ack{OK: true}},
		channels: &fakeChannels{},
		vault:    v,
		cfg:      &config.Config{},
	}
	fx.cfg.CORS.AllowedOrigins = []string{"https://app.reviu.test"}

	st := &store.Store{
		Connections:       fx.conns,
		TrackedFiles:      fx.files,
		Feedback:          fx.feedback,
		ChatSubscriptions: fx.subs,
	}
	fx.h = NewHandler(Deps{
		Config: fx.cfg,
		Store:  st,
		Vault:  v,
		OAuth:  fx.oauth,
		Tokens: fx.tokens,
		Files:  fx.fetcher,
		Sync:   fx.syncer,
		Events: fx.events,

		Channels: fx.channels,
	})
	return fx
}

func asUser(req *http.Request, subject string) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), &auth.Identity{Subject: subject}))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestStartOAuth(t *testing.T) {
	fx := newFixture(t)
	rr := httptest.NewRecorder()
	fx.h.StartOAuth(rr, asUser(httptest.NewRequest(http.MethodPost, "/oauth/figma/start", nil), "U1"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://www.figma.com/oauth?state=s&owner=U1", decodeBody(t, rr)["authorization_url"])

	fx.oauth.startErr = apperr.ErrConfiguration
	rr = httptest.NewRecorder()
	fx.h.StartOAuth(rr, asUser(httptest.NewRequest(http.MethodPost, "/oauth/figma/start", nil), "U1"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "configuration error", decodeBody(t, rr)["error"])
}

func TestOAuthCallback(t *testing.T) {
	testCases := []struct {
		name        string
		query       string
		callbackErr error
		wantStatus  int
		wantType    string
		wantAborted bool
	}{
		{name: "success", query: "?code=c1&state=s1", wantStatus: http.StatusOK, wantType: "oauth-success"},
		{name: "expired state", query: "?code=c1&state=s1", callbackErr: apperr.ErrStateExpired, wantStatus: http.StatusBadRequest, wantType: "oauth-error"},
		{name: "exchange failed", query: "?code=c1&state=s1", callbackErr: apperr.ErrTokenExchangeFailed, wantStatus: http.StatusBadRequest, wantType: "oauth-error"},
		{name: "provider denied", query: "?error=access_denied&state=s1", wantStatus: http.StatusBadRequest, wantType: "oauth-error", wantAborted: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.oauth.callbackErr = tc.callbackErr

			rr := httptest.NewRecorder()
			fx.h.OAuthCallback(rr, httptest.NewRequest(http.MethodGet, "/oauth/figma/callback"+tc.query, nil))

			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
			body := rr.Body.String()
			assert.Contains(t, body, tc.wantType)
			assert.Contains(t, body, "app.reviu.test")
			if tc.wantAborted {
				assert.Equal(t, []string{"s1"}, fx.oauth.aborted)
				assert.Empty(t, fx.oauth.gotCode)
			} else {
				assert.Empty(t, fx.oauth.aborted)
			}
		})
	}
}

func TestOpenerOriginFallsBackToWildcard(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.CORS.AllowedOrigins = []string{"*"}
	assert.Equal(t, "*", fx.h.openerOrigin())
}

func TestSync(t *testing.T) {
	project := "P1"
	testCases := []struct {
		name        string
		body        string
		user        string
		syncErr     error
		wantStatus  int
		wantProject *string
	}{
		{name: "by file id", body: `{"file_id":"file-1"}`, user: "U1", wantStatus: http.StatusOK},
		{name: "by key with project", body: `{"file_key":"KEY1","project_id":"P1"}`, user: "U1", wantStatus: http.StatusOK, wantProject: &project},
		{name: "other owner", body: `{"file_id":"file-1"}`, user: "U2", wantStatus: http.StatusNotFound},
		{name: "missing identifiers", body: `{}`, user: "U1", wantStatus: http.StatusBadRequest},
		{name: "invalid json", body: `{`, user: "U1", wantStatus: http.StatusBadRequest},
		{name: "not connected", body: `{"file_id":"file-1"}`, user: "U1", syncErr: apperr.ErrNotConnected, wantStatus: http.StatusBadRequest},
		{name: "reauth", body: `{"file_id":"file-1"}`, user: "U1", syncErr: apperr.ErrReauthRequired, wantStatus: http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.files.rows["file-1"] = store.TrackedFile{ID: "file-1", OwnerID: "U1", FileKey: "KEY1", SyncEnabled: true}
			fx.syncer.err = tc.syncErr
			fx.syncer.result = &figmasync.Result{Added: 2, Skipped: 1, Total: 4, Errors: []figmasync.ItemError{{CommentID: "c9", Error: "boom"}}}

			rr := httptest.NewRecorder()
			fx.h.Sync(rr, asUser(httptest.NewRequest(http.MethodPost, "/figma/sync", strings.NewReader(tc.body)), tc.user))

			require.Equal(t, tc.wantStatus, rr.Code, rr.Body.String())
			body := decodeBody(t, rr)
			if tc.wantStatus != http.StatusOK {
				assert.NotEmpty(t, body["error"])
				return
			}
			assert.Equal(t, true, body["success"])
			assert.EqualValues(t, 2, body["syncedCount"])
			assert.EqualValues(t, 1, body["skippedCount"])
			assert.EqualValues(t, 4, body["totalComments"])
			assert.Len(t, body["errors"], 1)

			require.Len(t, fx.syncer.got, 1)
			assert.Equal(t, tc.wantProject, fx.syncer.got[0].ProjectID)
		})
	}
}

func TestFileLifecycle(t *testing.T) {
	fx := newFixture(t)

	rr := httptest.NewRecorder()
	fx.h.CreateFile(rr, asUser(httptest.NewRequest(http.MethodPost, "/figma/files",
		strings.NewReader(`{"file_url":"https://www.figma.com/design/AbC123/Checkout","file_name":"Checkout","preferences":{"sync_unresolved_only":true}}`)), "U1"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeBody(t, rr)
	assert.Equal(t, "AbC123", created["file_key"])
	assert.Equal(t, true, created["sync_enabled"])
	assert.Equal(t, map[string]any{"sync_all": false, "sync_unresolved_only": true}, created["preferences"])

	rr = httptest.NewRecorder()
	fx.h.CreateFile(rr, asUser(httptest.NewRequest(http.MethodPost, "/figma/files",
		strings.NewReader(`{"file_key":"AbC123"}`)), "U1"))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	fx.h.CreateFile(rr, asUser(httptest.NewRequest(http.MethodPost, "/figma/files",
		strings.NewReader(`{"file_url":"https://example.com/nothing"}`)), "U1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	fx.h.ListFiles(rr, asUser(httptest.NewRequest(http.MethodGet, "/figma/files", nil), "U1"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["files"], 1)

	id := created["id"].(string)
	rr = httptest.NewRecorder()
	fx.h.DeleteFile(rr, withURLParam(asUser(httptest.NewRequest(http.MethodDelete, "/figma/files/"+id, nil), "U2"), "id", id))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	fx.h.DeleteFile(rr, withURLParam(asUser(httptest.NewRequest(http.MethodDelete, "/figma/files/"+id, nil), "U1"), "id", id))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, fx.files.rows)
}

func TestFileInfoRetriesRejectedToken(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.reject = "access-1"

	rr := httptest.NewRecorder()
	fx.h.FileInfo(rr, asUser(httptest.NewRequest(http.MethodGet, "/figma/file-info?url=https://www.figma.com/file/KEY9/x", nil), "U1"))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, "KEY9", body["file_key"])
	assert.Equal(t, "Checkout KEY9", body["file_name"])
	assert.Equal(t, []string{"access-1", "access-2"}, fx.fetcher.tokens)
}

func TestFileInfoErrors(t *testing.T) {
	fx := newFixture(t)
	rr := httptest.NewRecorder()
	fx.h.FileInfo(rr, asUser(httptest.NewRequest(http.MethodGet, "/figma/file-info?url=nope", nil), "U1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	fx.tokens.connErr = apperr.ErrNotConnected
	rr = httptest.NewRecorder()
	fx.h.FileInfo(rr, asUser(httptest.NewRequest(http.MethodGet, "/figma/file-info?url=https://www.figma.com/file/KEY9/x", nil), "U1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, fx.fetcher.tokens)
}

func TestConnectionStatus(t *testing.T) {
	fx := newFixture(t)

	rr := httptest.NewRecorder()
	fx.h.ConnectionStatus(rr, asUser(httptest.NewRequest(http.MethodGet, "/figma/connection", nil), "U1"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"connected": false}, decodeBody(t, rr))

	email := "ana@example.com"
	fx.conns.rows["U1"] = store.Connection{
		OwnerID:              "U1",
		EncryptedAccessToken: "secret-blob",
		ProviderUserID:       "42",
		ProviderUserEmail:    &email,
		ExpiresAt:            time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	rr = httptest.NewRecorder()
	fx.h.ConnectionStatus(rr, asUser(httptest.NewRequest(http.MethodGet, "/figma/connection", nil), "U1"))
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "42", body["provider_user_id"])
	assert.Equal(t, email, body["provider_user_email"])
	assert.NotContains(t, rr.Body.String(), "secret-blob")
}

func TestEvents(t *testing.T) {
	fx := newFixture(t)
	fx.events.ack = &slackingest.Ack{Challenge: "ch-1"}

	rr := httptest.NewRecorder()
	fx.h.Events(rr, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(`{"type":"url_verification","challenge":"ch-1"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"challenge": "ch-1"}, decodeBody(t, rr))
	assert.JSONEq(t, `{"type":"url_verification","challenge":"ch-1"}`, string(fx.events.body))

	fx.events.err = errors.New("unexpected end of JSON input")
	rr = httptest.NewRecorder()
	fx.h.Events(rr, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, false, body["ok"])
	assert.NotEmpty(t, body["error"])
}

func TestPutSubscription(t *testing.T) {
	fx := newFixture(t)

	rr := httptest.NewRecorder()
	fx.h.PutSubscription(rr, asUser(httptest.NewRequest(http.MethodPut, "/slack/subscription",
		strings.NewReader(`{"team_id":"T1","channels":["C1"," C2 ","C1",""],"access_token":"xoxb-1"}`)), "U1"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	sub := fx.subs.rows["U1"]
	assert.Equal(t, "T1", sub.TeamID)
	assert.Equal(t, []string{"C1", "C2"}, sub.Channels)
	assert.NotContains(t, sub.EncryptedAccessToken, "xoxb-1")
	plain, err := fx.vault.Decrypt(sub.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-1", plain)

	rr = httptest.NewRecorder()
	fx.h.PutSubscription(rr, asUser(httptest.NewRequest(http.MethodPut, "/slack/subscription",
		strings.NewReader(`{"team_id":"T1","channels":["C1"]}`)), "U1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSlackChannels(t *testing.T) {
	fx := newFixture(t)
	enc, err := fx.vault.Encrypt("xoxb-1")
	require.NoError(t, err)
	fx.subs.rows["U1"] = store.ChatSubscription{OwnerID: "U1", TeamID: "T1", Channels: []string{"C2"}, EncryptedAccessToken: enc}
	fx.channels.chans = []slackapi.Channel{
		{ID: "C1", Name: "general", IsMember: true},
		{ID: "C2", Name: "design-feedback", IsMember: true},
		{ID: "G1", Name: "leads", IsPrivate: true},
	}

	rr := httptest.NewRecorder()
	fx.h.SlackChannels(rr, asUser(httptest.NewRequest(http.MethodGet, "/slack/channels", nil), "U1"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "xoxb-1", fx.channels.gotToken)
	assert.JSONEq(t, `{"team_id":"T1","channels":[
		{"id":"C1","name":"general","is_private":false,"is_member":true,"subscribed":false},
		{"id":"C2","name":"design-feedback","is_private":false,"is_member":true,"subscribed":true},
		{"id":"G1","name":"leads","is_private":true,"is_member":false,"subscribed":false}
	]}`, rr.Body.String())
}

func TestSlackChannelsErrors(t *testing.T) {
	tests := []struct {
		name       string
		subscribed bool
		listErr    error
		wantStatus int
	}{
		{name: "no workspace", wantStatus: http.StatusBadRequest},
		{name: "revoked token", subscribed: true, listErr: fmt.Errorf("conversations.list: %w", apperr.ErrTokenRejected), wantStatus: http.StatusUnauthorized},
		{name: "rate limited", subscribed: true, listErr: apperr.ErrProviderUnavailable, wantStatus: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			if tt.subscribed {
				enc, err := fx.vault.Encrypt("xoxb-1")
				require.NoError(t, err)
				fx.subs.rows["U1"] = store.ChatSubscription{OwnerID: "U1", TeamID: "T1", EncryptedAccessToken: enc}
			}
			fx.channels.err = tt.listErr

			rr := httptest.NewRecorder()
			fx.h.SlackChannels(rr, asUser(httptest.NewRequest(http.MethodGet, "/slack/channels", nil), "U1"))
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, decodeBody(t, rr), "error")
		})
	}
}

func TestInbox(t *testing.T) {
	fx := newFixture(t)
	for i := 0; i < 3; i++ {
		fx.feedback.items = append(fx.feedback.items, store.FeedbackItem{
			ID:      "fb-" + string(rune('a'+i)),
			OwnerID: "U1",
			Content: "comment",
			Source:  store.SourceSlack,
			Status:  store.StatusOpen,
		})
	}
	fx.feedback.items = append(fx.feedback.items, store.FeedbackItem{ID: "fb-x", OwnerID: "U2"})

	rr := httptest.NewRecorder()
	fx.h.Inbox(rr, asUser(httptest.NewRequest(http.MethodGet, "/inbox?page=2&limit=2", nil), "U1"))
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.EqualValues(t, 2, body["page"])
	assert.EqualValues(t, 2, body["limit"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "fb-c", items[0].(map[string]any)["id"])
	assert.Equal(t, "slack", items[0].(map[string]any)["source"])
}

func TestInboxPastLastPageIsEmpty(t *testing.T) {
	fx := newFixture(t)
	fx.feedback.items = []store.FeedbackItem{{ID: "fb-1", OwnerID: "U1"}}

	rr := httptest.NewRecorder()
	fx.h.Inbox(rr, asUser(httptest.NewRequest(http.MethodGet, "/inbox?page=9223372036854775807&limit=100", nil), "U1"))
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.EqualValues(t, maxPage, body["page"])
	assert.Empty(t, body["items"])
	assert.GreaterOrEqual(t, fx.feedback.lastOffset, 0)
}

func TestMarkViewedIsStampedOnce(t *testing.T) {
	fx := newFixture(t)
	fx.feedback.items = []store.FeedbackItem{{ID: "fb-1", OwnerID: "U1"}}

	rr := httptest.NewRecorder()
	fx.h.MarkViewed(rr, withURLParam(asUser(httptest.NewRequest(http.MethodPost, "/inbox/fb-1/viewed", nil), "U1"), "id", "fb-1"))
	require.Equal(t, http.StatusNoContent, rr.Code)
	first := *fx.feedback.items[0].ViewedAt

	rr = httptest.NewRecorder()
	fx.h.MarkViewed(rr, withURLParam(asUser(httptest.NewRequest(http.MethodPost, "/inbox/fb-1/viewed", nil), "U1"), "id", "fb-1"))
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, first, *fx.feedback.items[0].ViewedAt)

	rr = httptest.NewRecorder()
	fx.h.MarkViewed(rr, withURLParam(asUser(httptest.NewRequest(http.MethodPost, "/inbox/nope/viewed", nil), "U1"), "id", "nope"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestParsePagination(t *testing.T) {
	testCases := []struct {
		query     string
		wantPage  int
		wantLimit int
	}{
		{"", 1, defaultPageSize},
		{"?page=3&limit=10", 3, 10},
		{"?page=0&limit=500", 1, defaultPageSize},
		{"?page=abc&limit=-1", 1, defaultPageSize},
		{"?page=10000&limit=100", maxPage, 100},
		{"?page=9223372036854775807&limit=100", maxPage, 100},
		{"?page=99999999999999999999", 1, defaultPageSize},
	}
	for _, tc := range testCases {
		page, limit := parsePagination(httptest.NewRequest(http.MethodGet, "/inbox"+tc.query, nil))
		assert.Equal(t, tc.wantPage, page, tc.query)
		assert.Equal(t, tc.wantLimit, limit, tc.query)
	}
}
