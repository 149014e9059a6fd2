package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nanami404/meeting-assistant/internal/domain"
	"github.com/nanami404/meeting-assistant/internal/event"
	"github.com/nanami404/meeting-assistant/internal/push"
	"github.com/nanami404/meeting-assistant/internal/service"
	"github.com/nanami404/meeting-assistant/internal/token"
	apperrors "github.com/nanami404/meeting-assistant/pkg/errors"
	"github.com/nanami404/meeting-assistant/pkg/health"
	"github.com/nanami404/meeting-assistant/pkg/logger"
)

// --- stub repositories ---

type stubUserRepo struct {
	users map[string]*domain.User
}

func (s *stubUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, apperrors.ErrNotFound
}

func (s *stubUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (s *stubUserRepo) FilterExisting(_ context.Context, ids []string) ([]string, error) {
	var known []string
	for _, id := range ids {
		if _, ok := s.users[id]; ok {
			known = append(known, id)
		}
	}
	return known, nil
}

type stubMessageRepo struct {
	created []*domain.Message
	unread  []domain.InboxEntry

	listEntries []domain.InboxEntry
	listTotal   int

	markReadErr error
}

func (s *stubMessageRepo) CreateWithRecipients(_ context.Context, msg *domain.Message, _ []string) error {
	s.created = append(s.created, msg)
	return nil
}

func (s *stubMessageRepo) ListByRecipient(_ context.Context, _ string, _, _ int, _ *bool) ([]domain.InboxEntry, int, error) {
	return s.listEntries, s.listTotal, nil
}

func (s *stubMessageRepo) ListUnread(_ context.Context, _ string, _ int) ([]domain.InboxEntry, error) {
	return s.unread, nil
}

func (s *stubMessageRepo) MarkRead(_ context.Context, _, _ string) error {
	return s.markReadErr
}

func (s *stubMessageRepo) MarkAllRead(_ context.Context, _ string) (int, error) {
	return len(s.unread), nil
}

func (s *stubMessageRepo) Delete(_ context.Context, _, _ string) error {
	return nil
}

func (s *stubMessageRepo) DeleteByKind(_ context.Context, _, _ string) (int, error) {
	return 2, nil
}

// --- fixture ---

type routerFixture struct {
	handler  http.Handler
	users    *stubUserRepo
	messages *stubMessageRepo
	registry *push.Registry
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	users := &stubUserRepo{users: map[string]*domain.User{
		"usr-001": {
			ID:           "usr-001",
			Email:        "alice@example.com",
			PasswordHash: string(hash),
			Name:         "Alice",
			Role:         domain.RoleUser,
			Status:       domain.StatusActive,
		},
		"usr-002": {
			ID:     "usr-002",
			Email:  "bob@example.com",
			Name:   "Bob",
			Role:   domain.RoleUser,
			Status: domain.StatusActive,
		},
	}}
	messages := &stubMessageRepo{}

	log := logger.New("router-test", "error")
	store := token.NewMemoryRevocationStore()
	t.Cleanup(store.Close)

	tokens := token.NewManager(token.DefaultConfig("test-secret"), users, store, log)
	registry := push.NewRegistry()
	producer := event.NewProducer(nil, log)

	auth := service.NewAuthService(users, tokens, registry, log)
	msgSvc := service.NewMessageService(messages, users, registry, producer, log)

	handler := NewRouter(RouterConfig{
		Auth:          auth,
		Messages:      msgSvc,
		Health:        health.NewHandler(),
		Logger:        log,
		Environment:   "development",
		AuthRateRPS:   100,
		AuthRateBurst: 100,
	})

	return &routerFixture{handler: handler, users: users, messages: messages, registry: registry}
}

func (f *routerFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *routerFixture) login(t *testing.T) *domain.TokenPair {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data struct {
			Tokens domain.TokenPair `json:"tokens"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp.Data.Tokens
}

// --- auth endpoints ---

func TestLogin_ReturnsUserAndTokens(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data AuthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "usr-001", resp.Data.User.ID)
	assert.NotEmpty(t, resp.Data.Tokens.AccessToken)
	assert.NotContains(t, rec.Body.String(), "password", "hash must never leak")
}

func TestLogin_BadCredentials(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_ValidationError(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "not-an-email",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestRefresh_RotatesPair(t *testing.T) {
	f := newRouterFixture(t)
	pair := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data domain.TokenPair `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, pair.RefreshToken, resp.Data.RefreshToken)

	// The consumed token is dead.
	rec = f.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_KillsAccessToken(t *testing.T) {
	f := newRouterFixture(t)
	pair := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/logout", pair.AccessToken, map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/users/me", pair.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	f := newRouterFixture(t)
	pair := f.login(t)

	rec := f.do(t, http.MethodGet, "/api/v1/users/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alice@example.com")
}

func TestProtectedRoutes_RequireAuth(t *testing.T) {
	f := newRouterFixture(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/users/me"},
		{http.MethodPost, "/api/v1/messages"},
		{http.MethodGet, "/api/v1/messages"},
		{http.MethodPost, "/api/v1/messages/read-all"},
		{http.MethodDelete, "/api/v1/messages?kind=all"},
	} {
		rec := f.do(t, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
}

// --- message endpoints ---

func TestSendMessage(t *testing.T) {
	f := newRouterFixture(t)
	pair := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/v1/messages", pair.AccessToken, map[string]any{
		"title":         "Standup moved",
		"content":       "Now at 10:30",
		"recipient_ids": []string{"usr-002"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, f.messages.created, 1)
	assert.Equal(t, "usr-001", f.messages.created[0].SenderID, "sender comes from the token, not the body")
}

func TestSendMessage_MissingTitle(t *testing.T) {
	f := newRouterFixture(t)
	pair := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/v1/messages", pair.AccessToken, map[string]any{
		"content":       "no title",
		"recipient_ids": []string{"usr-002"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMessages_Paginated(t *testing.T) {
	f := newRouterFixture(t)
	pair := f.login(t)

	f.messages.listEntries = []domain.InboxEntry{
		{Message: domain.Message{ID: "msg-001", Title: "a"}},
	}
	f.messages.listTotal = 41

	rec := f.do(t, http.MethodGet, "/api/v1/messages?page=2&per_page=20", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TotalCount int  `json:"total_count"`
		Page       int  `json:"page"`
		TotalPages int  `json:"total_pages"`
		HasNext    bool `json:"has_next"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 41, resp.TotalCount)
	assert.Equal(t, 2, resp.Page)
	assert.Equal(t, 3, resp.TotalPages)
	assert.True(t, resp.HasNext)
}

func TestListMessages_BadIsReadFilter(t *testing.T) {
	f := newRouterFixture(t)
	pair := f.login(t)

	rec := f.do(t, http.MethodGet, "/api/v1/messages?is_read=maybe", pair.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkRead_InvalidUUID(t *testing.T) {
	f := newRouterFixture(t)
	pair := f.login(t)

	rec := f.do(t, http.MethodPost, "/api/v1/messages/not-a-uuid/read", pair.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_PARAMETER")
}

func TestMarkRead_NotOwned(t *testing.T) {
	f := newRouterFixture(t)
	pair := f.login(t)

	f.messages.markReadErr = apperrors.ErrNotFound

	rec := f.do(t, http.MethodPost,
		"/api/v1/messages/6d9031f7-45bb-419b-bbf4-bb0e3c6f6e2e/read", pair.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteByKind_Invalid(t *testing.T) {
	f := newRouterFixture(t)
	pair := f.login(t)

	rec := f.do(t, http.MethodDelete, "/api/v1/messages?kind=starred", pair.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteByKind_Read(t *testing.T) {
	f := newRouterFixture(t)
	pair := f.login(t)

	rec := f.do(t, http.MethodDelete, "/api/v1/messages?kind=read", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":2`)
}

// --- stream endpoint ---

func TestStream_ReplaysBacklogAndLivePush(t *testing.T) {
	f := newRouterFixture(t)
	pair := f.login(t)

	f.messages.unread = []domain.InboxEntry{
		{Message: domain.Message{ID: "msg-old", Title: "old", SenderID: "usr-002"}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/stream?token="+pair.AccessToken, nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.handler.ServeHTTP(rec, req)
	}()

	// Wait for the channel to register, push a live frame, then evict to
	// end the stream.
	require.Eventually(t, func() bool {
		return f.registry.IsOnline("usr-001")
	}, time.Second, 5*time.Millisecond)

	f.registry.Send("usr-001", domain.Frame{MessageID: "msg-live", Title: "live"})

	time.Sleep(20 * time.Millisecond)
	f.registry.EvictUser("usr-001")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not return after eviction")
	}

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, ": stream started")
	assert.Contains(t, body, "msg-old")
	assert.Contains(t, body, "msg-live")
	assert.Less(t, strings.Index(body, "msg-old"), strings.Index(body, "msg-live"),
		"backlog precedes live traffic")
}

func TestStream_RejectsMissingToken(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/messages/stream", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStream_RejectsBadToken(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/messages/stream?token=garbage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// --- infrastructure routes ---

func TestHealthEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestContentTypeEnforced(t *testing.T) {
	f := newRouterFixture(t)

	body := []byte(`{"email":"alice@example.com","password":"hunter2"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/%s", "nope"), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
