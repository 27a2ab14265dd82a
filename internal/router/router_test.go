package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmportal/orchestrator/internal/auth"
	"github.com/llmportal/orchestrator/internal/cache"
	"github.com/llmportal/orchestrator/internal/handler"
	"github.com/llmportal/orchestrator/internal/litellm"
	"github.com/llmportal/orchestrator/internal/metrics"
	"github.com/llmportal/orchestrator/internal/middleware"
	"github.com/llmportal/orchestrator/internal/model"
	"github.com/llmportal/orchestrator/internal/policy"
	"github.com/llmportal/orchestrator/internal/service"
	"github.com/llmportal/orchestrator/internal/worker"
)

const (
	testSecret   = "router-test-secret"
	adminGroup   = "group:default/llm-admins"
	allowedGroup = "group:default/llm-users"

	aliceRef = "user:default/alice"
	bobRef   = "user:default/bob"
	rootRef  = "user:default/root"
)

// fakeLiteLLM is an in-memory LiteLLM proxy admin API.
type fakeLiteLLM struct {
	mu      sync.Mutex
	users   map[string]litellm.NewUserRequest
	keys    map[string]string
	seq     int
	deleted [][]string
}

func newFakeLiteLLM() *fakeLiteLLM {
	return &fakeLiteLLM{
		users: make(map[string]litellm.NewUserRequest),
		keys:  make(map[string]string),
	}
}

func (f *fakeLiteLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := r.URL.Query()
	switch r.Method + " " + r.URL.Path {
	case "GET /health/liveliness":
		writeBody(w, http.StatusOK, "I'm alive!")

	case "GET /user/info":
		id := q.Get("user_id")
		u, ok := f.users[id]
		if !ok {
			// Unknown ids still get a 200 with an empty record.
			writeBody(w, http.StatusOK, map[string]any{"user_id": id, "user_info": map[string]any{"spend": 0}})
			return
		}
		writeBody(w, http.StatusOK, map[string]any{
			"user_id": id,
			"user_info": map[string]any{
				"user_id":         id,
				"max_budget":      u.MaxBudget,
				"budget_duration": u.BudgetDuration,
				"spend":           0,
			},
		})

	case "POST /user/new":
		var body litellm.NewUserRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := f.users[body.UserID]; ok {
			writeBody(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "User with id " + body.UserID + " already exists"}})
			return
		}
		f.users[body.UserID] = body
		writeBody(w, http.StatusOK, map[string]any{
			"user_id":         body.UserID,
			"max_budget":      body.MaxBudget,
			"budget_duration": body.BudgetDuration,
			"spend":           0,
		})

	case "POST /key/generate":
		var body struct {
			UserID string `json:"user_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.seq++
		token := "tok-" + strconv.Itoa(f.seq)
		f.keys[token] = body.UserID
		writeBody(w, http.StatusOK, map[string]any{"token": token, "key": "sk-" + token, "user_id": body.UserID})

	case "GET /key/list":
		owner := q.Get("user_id")
		keys := make([]map[string]any, 0)
		for _, token := range slices.Sorted(maps.Keys(f.keys)) {
			if f.keys[token] == owner {
				keys = append(keys, map[string]any{"token": token, "user_id": owner})
			}
		}
		writeBody(w, http.StatusOK, map[string]any{"keys": keys, "current_page": 1, "total_pages": 1, "total_count": len(keys)})

	case "GET /key/info":
		token := q.Get("key")
		owner, ok := f.keys[token]
		if !ok {
			writeBody(w, http.StatusNotFound, map[string]any{"detail": "key not found"})
			return
		}
		writeBody(w, http.StatusOK, map[string]any{"key": token, "info": map[string]any{"user_id": owner}})

	case "POST /key/delete":
		var body struct {
			Keys []string `json:"keys"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, k := range body.Keys {
			if _, ok := f.keys[k]; !ok {
				writeBody(w, http.StatusNotFound, map[string]any{"detail": "key not found"})
				return
			}
		}
		for _, k := range body.Keys {
			delete(f.keys, k)
		}
		writeBody(w, http.StatusOK, map[string]any{"deleted_keys": body.Keys})

	case "GET /user/list":
		users := make([]map[string]any, 0, len(f.users))
		for _, id := range slices.Sorted(maps.Keys(f.users)) {
			users = append(users, map[string]any{"user_id": id})
		}
		writeBody(w, http.StatusOK, map[string]any{"users": users, "total": len(users), "page": 1, "total_pages": 1})

	case "POST /user/delete":
		var body struct {
			UserIDs []string `json:"user_ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, id := range body.UserIDs {
			delete(f.users, id)
		}
		f.deleted = append(f.deleted, body.UserIDs)
		writeBody(w, http.StatusOK, map[string]any{"deleted_users": body.UserIDs})

	default:
		writeBody(w, http.StatusNotFound, map[string]any{"detail": "not found"})
	}
}

func (f *fakeLiteLLM) hasUser(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[id]
	return ok
}

func (f *fakeLiteLLM) addUser(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = litellm.NewUserRequest{UserID: id, MaxBudget: 50, BudgetDuration: "30d"}
}

func (f *fakeLiteLLM) deletedBatches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deleted)
}

func (f *fakeLiteLLM) keyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

func writeBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// stubDirectory serves a fixed set of directory entities.
type stubDirectory struct {
	entities []model.Entity
}

func (d *stubDirectory) GetEntityByRef(_ context.Context, ref string) (*model.Entity, error) {
	for _, e := range d.entities {
		if e.Ref() == model.NormalizeEntityRef(ref) {
			return &e, nil
		}
	}
	return nil, nil
}

func (d *stubDirectory) ListEntities(_ context.Context, filter model.EntityFilter) ([]model.Entity, error) {
	var out []model.Entity
	for _, e := range d.entities {
		if filter.Kind == "" || strings.EqualFold(e.Kind, filter.Kind) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memoryRuns struct {
	mu   sync.Mutex
	runs []*model.CleanupRun
}

func (m *memoryRuns) CreateCleanupRun(_ context.Context, run *model.CleanupRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append([]*model.CleanupRun{run}, m.runs...)
	return nil
}

func (m *memoryRuns) ListCleanupRuns(_ context.Context, limit int) ([]*model.CleanupRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[:min(limit, len(m.runs))], nil
}

type testEnv struct {
	server   *httptest.Server
	upstream *fakeLiteLLM
	runs     *memoryRuns
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func member(name string, groups ...string) model.Entity {
	rels := make([]model.Relation, 0, len(groups))
	for _, g := range groups {
		rels = append(rels, model.Relation{Type: model.RelationMemberOf, TargetRef: g})
	}
	return model.Entity{Kind: model.KindUser, Metadata: model.EntityMetadata{Name: name, Namespace: "default"}, Relations: rels}
}

func newTestEnv(t *testing.T, rl RateLimitOptions, limiter *cache.Cache) *testEnv {
	t.Helper()
	logger := discardLogger()

	upstream := newFakeLiteLLM()
	upstreamSrv := httptest.NewServer(upstream)
	t.Cleanup(upstreamSrv.Close)

	client := litellm.New(litellm.Options{BaseURL: upstreamSrv.URL, MasterKey: "sk-master", Timeout: 5 * time.Second})
	p := policy.New(adminGroup, allowedGroup)
	recorder := metrics.NewInMemory()

	users := service.NewUserService(client, p, service.UserDefaults{MaxBudget: 50, BudgetDuration: "30d"}, recorder, logger)
	keys := service.NewKeyService(client, p, recorder, logger)

	directory := &stubDirectory{entities: []model.Entity{
		{Kind: model.KindGroup, Metadata: model.EntityMetadata{Name: "llm-users", Namespace: "default"}},
		member("alice", allowedGroup),
		member("bob", allowedGroup),
	}}
	cleanup := service.NewCleanupService(client, directory, allowedGroup, 0, recorder, logger)
	runs := &memoryRuns{}
	cleanupWorker := worker.NewCleanupWorker(cleanup, nil, runs, nil, 0, logger)

	reg := prometheus.NewRegistry()
	var limiterIface middleware.IdentityLimiter
	if limiter != nil {
		limiterIface = limiter
	}

	r := New(Deps{
		Logger:      logger,
		Policy:      p,
		Verifier:    auth.NewVerifier(testSecret, "", ""),
		Provisioner: users,
		Limiter:     limiterIface,
		RateLimit:   rl,
		Users:       handler.NewUserHandler(users, p, logger),
		Keys:        handler.NewKeyHandler(keys, logger),
		Admin:       handler.NewAdminHandler(cleanupWorker, runs, nil, "test", logger),
		Health:      handler.NewHealthHandler(map[string]handler.HealthChecker{"litellm": client}),
		Metrics:     handler.NewMetricsHandler(reg),

		IsDevelopment:      true,
		MaxRequestBodySize: 1 << 20,
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, upstream: upstream, runs: runs}
}

func token(t *testing.T, ref string, groups ...string) string {
	t.Helper()
	tok, err := auth.Issue(testSecret, "", "", ref, append([]string{ref}, groups...), time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, tok, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp handler.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp), string(body))
	return resp.Error.Code
}

const (
	alicePath = "/api/v1/users/user%3Adefault%2Falice"
	bobPath   = "/api/v1/users/user%3Adefault%2Fbob"
)

func TestRouter_HealthEndpoints(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)

	resp, body := env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = env.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodGet, "/openapi.yaml", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "openapi: 3.0.3")

	resp, _ = env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_UnknownRoute(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)

	resp, body := env.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRouter_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)

	resp, body := env.do(t, http.MethodGet, alicePath, "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, body))

	resp, _ = env.do(t, http.MethodGet, alicePath, "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, env.upstream.hasUser(aliceRef))
}

func TestRouter_OutsideAllowedGroupIsForbidden(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/users/user%3Adefault%2Fcarol/keys", token(t, "user:default/carol"), "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(t, body))
	assert.False(t, env.upstream.hasUser("user:default/carol"), "no account may be created for an outsider")
}

func TestRouter_KeyLifecycle(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)
	alice := token(t, aliceRef, allowedGroup)

	// First request provisions the account lazily.
	resp, body := env.do(t, http.MethodGet, alicePath, alice, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var account model.Account
	require.NoError(t, json.Unmarshal(body, &account))
	assert.Equal(t, aliceRef, account.AccountID)
	assert.Equal(t, 50.0, account.MaxBudget)
	assert.Equal(t, "30d", account.BudgetDuration)

	resp, body = env.do(t, http.MethodPost, alicePath+"/keys", alice, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var key model.APIKey
	require.NoError(t, json.Unmarshal(body, &key))
	assert.Equal(t, aliceRef, key.OwnerAccountID)
	assert.Equal(t, "tok-1", key.KeyID)
	assert.Equal(t, "sk-tok-1", key.KeySecret)

	resp, body = env.do(t, http.MethodGet, alicePath+"/keys", alice, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list model.KeyList
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Keys, 1)
	assert.Equal(t, "tok-1", list.Keys[0].Token())
	assert.NotContains(t, string(body), "sk-tok-1")

	resp, body = env.do(t, http.MethodDelete, alicePath+"/keys/tok-1", alice, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, body)

	resp, body = env.do(t, http.MethodDelete, alicePath+"/keys/tok-1", alice, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, body))

	resp, body = env.do(t, http.MethodGet, alicePath+"/keys", alice, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"keys":[]}`, string(body))
}

func TestRouter_MembersCannotTouchOtherAccounts(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)
	alice := token(t, aliceRef, allowedGroup)
	bob := token(t, bobRef, allowedGroup)

	resp, _ := env.do(t, http.MethodPost, bobPath+"/keys", bob, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, bobPath, alice, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, bobPath+"/keys", alice, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, bobPath+"/keys", alice, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, bobPath+"/keys/tok-1", alice, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Naming bob's key under her own account does not help either.
	resp, _ = env.do(t, http.MethodDelete, alicePath+"/keys/tok-1", alice, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, env.upstream.keyCount())
}

func TestRouter_AdminActsOnOtherAccounts(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)
	root := token(t, rootRef, adminGroup)

	resp, body := env.do(t, http.MethodPost, "/api/v1/users", root, `{"userId":"user:default/bob","maxBudget":10,"budgetDuration":"7d"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var account model.Account
	require.NoError(t, json.Unmarshal(body, &account))
	assert.Equal(t, 10.0, account.MaxBudget)
	assert.Equal(t, "7d", account.BudgetDuration)

	resp, _ = env.do(t, http.MethodPost, bobPath+"/keys", root, "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, bobPath+"/keys/tok-1", root, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRouter_CreateUser(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)
	alice := token(t, aliceRef, allowedGroup)

	resp, body := env.do(t, http.MethodPost, "/api/v1/users", alice, `{"userId":"user:default/alice"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var account model.Account
	require.NoError(t, json.Unmarshal(body, &account))
	assert.Equal(t, aliceRef, account.AccountID)
	assert.Equal(t, 50.0, account.MaxBudget)
	assert.Equal(t, "30d", account.BudgetDuration)

	resp, body = env.do(t, http.MethodPost, "/api/v1/users", alice, `{"userId":"user:default/alice"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", errorCode(t, body))

	resp, _ = env.do(t, http.MethodPost, "/api/v1/users", alice, `{"userId":"user:default/alice","maxBudget":500}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/users", alice, `{"userId":"user:default/bob"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/v1/users", alice, `{"userId":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_USER_ID", errorCode(t, body))
}

func TestRouter_AdminCreatesOwnAccountWithOverrides(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)
	root := token(t, rootRef, adminGroup)

	resp, body := env.do(t, http.MethodPost, "/api/v1/users", root, `{"userId":"`+rootRef+`","maxBudget":500,"budgetDuration":"30d"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodGet, "/api/v1/users/user%3Adefault%2Froot", root, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var account model.Account
	require.NoError(t, json.Unmarshal(body, &account))
	assert.Equal(t, 500.0, account.MaxBudget)
	assert.Equal(t, "30d", account.BudgetDuration)
}

func TestRouter_CreateUserOutsideAllowedGroup(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/users", token(t, "user:default/carol"), `{"userId":"user:default/carol"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(t, body))
	assert.False(t, env.upstream.hasUser("user:default/carol"))
}

func TestRouter_InvalidPathParams(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)
	alice := token(t, aliceRef, allowedGroup)

	resp, body := env.do(t, http.MethodGet, "/api/v1/users/%20/keys", alice, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_USER_ID", errorCode(t, body))

	resp, body = env.do(t, http.MethodDelete, alicePath+"/keys/%09", alice, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_KEY_ID", errorCode(t, body))
}

func TestRouter_AdminEndpoints(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)
	alice := token(t, aliceRef, allowedGroup)
	root := token(t, rootRef, adminGroup)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/admin/cleanup", alice, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/admin/stats", root, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The directory is read-only here.
	resp, _ = env.do(t, http.MethodPut, "/api/v1/admin/directory/entities", root, `{"kind":"User","metadata":{"name":"x"}}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_CleanupRemovesAccountsOutsideGroup(t *testing.T) {
	env := newTestEnv(t, RateLimitOptions{}, nil)
	root := token(t, rootRef, adminGroup)

	env.upstream.addUser(aliceRef)
	env.upstream.addUser("User:default/bob")
	env.upstream.addUser("user:default/mallory")

	resp, body := env.do(t, http.MethodPost, "/api/v1/admin/cleanup", root, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var run model.CleanupRun
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, model.CleanupCompleted, run.Status)
	assert.Equal(t, service.TriggerManual, run.Trigger)
	assert.Equal(t, 3, run.Accounts)
	assert.Equal(t, 1, run.Deleted)

	assert.True(t, env.upstream.hasUser(aliceRef))
	assert.True(t, env.upstream.hasUser("User:default/bob"), "entity kinds are compared case-insensitively")
	assert.False(t, env.upstream.hasUser("user:default/mallory"))
	assert.Equal(t, [][]string{{"user:default/mallory"}}, env.upstream.deletedBatches())

	resp, body = env.do(t, http.MethodGet, "/api/v1/admin/cleanup/runs?limit=5", root, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs handler.CleanupRunsResponse
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, run.ID, runs.Runs[0].ID)
}

func TestRouter_RateLimitPerCaller(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	env := newTestEnv(t, RateLimitOptions{Enabled: true, RPM: 1, Burst: 2}, limiter)
	alice := token(t, aliceRef, allowedGroup)
	bob := token(t, bobRef, allowedGroup)

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodGet, alicePath+"/keys", alice, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodGet, alicePath+"/keys", alice, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, body))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, _ = env.do(t, http.MethodGet, bobPath+"/keys", bob, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
