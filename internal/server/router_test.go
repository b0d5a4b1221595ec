package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relaychat/internal/auth"
	"relaychat/internal/config"
	"relaychat/internal/service"
	"relaychat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-test-secret"

type fakeStore struct {
	history []service.MessageDTO
	err     error
	gotA    string
	gotB    string
}

func (f *fakeStore) Append(_ context.Context, sender, recipient, text string) (service.MessageDTO, error) {
	return service.MessageDTO{ID: 1, SenderUserID: sender, RecipientUserID: recipient, Text: text, CreatedAt: time.Now()}, nil
}

func (f *fakeStore) QueryHistory(_ context.Context, a, b string) ([]service.MessageDTO, error) {
	f.gotA, f.gotB = a, b
	return f.history, f.err
}

type fakeUsers struct {
	users []service.UserDTO
	err   error
}

func (f fakeUsers) List(context.Context) ([]service.UserDTO, error) { return f.users, f.err }

func newTestEngine(t *testing.T, store *fakeStore, users fakeUsers) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{Env: "dev", JWTSecret: testSecret, AccessTokenTTLMinutes: 15, RateLimitRPS: 100, RateLimitBurst: 100, SendBuffer: 16, MaxMessageBytes: 1 << 16}
	hub := ws.NewHub(store, auth.NewJWTVerifier(testSecret), ws.Options{})
	return SetupRouter(cfg, NewHandler(users, store, hub), hub)
}

func bearer(t *testing.T, uid, name string) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(uid, name, testSecret, 15)
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestHealthz(t *testing.T) {
	engine := newTestEngine(t, &fakeStore{}, fakeUsers{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAPIRequiresCredential(t *testing.T) {
	engine := newTestEngine(t, &fakeStore{}, fakeUsers{})
	for _, path := range []string{"/api/v1/messages/bob", "/api/v1/people", "/api/v1/profile", "/api/v1/online"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestHistory(t *testing.T) {
	store := &fakeStore{history: []service.MessageDTO{
		{ID: 1, SenderUserID: "alice", RecipientUserID: "bob", Text: "hi"},
		{ID: 2, SenderUserID: "bob", RecipientUserID: "alice", Text: "yo"},
	}}
	engine := newTestEngine(t, store, fakeUsers{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/bob", nil)
	req.Header.Set("Authorization", bearer(t, "alice", "Alice"))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", store.gotA)
	assert.Equal(t, "bob", store.gotB)
	var body struct {
		Messages []service.MessageDTO `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "yo", body.Messages[1].Text)
}

func TestHistoryStoreFailure(t *testing.T) {
	engine := newTestEngine(t, &fakeStore{err: errors.New("db down")}, fakeUsers{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/bob", nil)
	req.Header.Set("Authorization", bearer(t, "alice", "Alice"))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPeopleAndProfile(t *testing.T) {
	users := fakeUsers{users: []service.UserDTO{{ID: "alice", Username: "Alice"}, {ID: "bob", Username: "Bob"}}}
	engine := newTestEngine(t, &fakeStore{}, users)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/people", nil)
	req.Header.Set("Authorization", bearer(t, "alice", "Alice"))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"people":[{"userId":"alice","username":"Alice"},{"userId":"bob","username":"Bob"}]}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	req.AddCookie(&http.Cookie{Name: auth.TokenCookie, Value: bearer(t, "bob", "Bob")[len("Bearer "):]})
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"bob","username":"Bob"}`, w.Body.String())
}

func TestOnlineEmpty(t *testing.T) {
	engine := newTestEngine(t, &fakeStore{}, fakeUsers{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/online", nil)
	req.Header.Set("Authorization", bearer(t, "alice", "Alice"))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"online":[]}`, w.Body.String())
}
