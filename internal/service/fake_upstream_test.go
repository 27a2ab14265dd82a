package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/llmportal/orchestrator/internal/litellm"
	"github.com/llmportal/orchestrator/internal/model"
	"github.com/llmportal/orchestrator/internal/policy"
)

const (
	adminGroup   = "group:default/llm-admins"
	allowedGroup = "group:default/llm-users"
)

var testPolicy = policy.New(adminGroup, allowedGroup)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func member(ref string) model.Identity {
	return model.Identity{EntityRef: ref, GroupRefs: []string{ref, allowedGroup}}
}

func admin(ref string) model.Identity {
	return model.Identity{EntityRef: ref, GroupRefs: []string{ref, adminGroup}}
}

func ptr[T any](v T) *T { return &v }

// fakeUpstream is an in-memory stand-in for the gateway admin API.
type fakeUpstream struct {
	mu        sync.Mutex
	accounts  map[string]litellm.NewUserRequest
	calls     map[string]int
	keyPages  []litellm.ListKeysResponse
	listErr   error
	status    map[string]int
	nextToken string
	keyOwners map[string]string

	userIDs       []string
	deletedUsers  [][]string
	failBatch     map[int]bool
	deleteCalls   int
	deletedKeys   [][]string
	onGetUserInfo func()
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		accounts:  make(map[string]litellm.NewUserRequest),
		calls:     make(map[string]int),
		status:    make(map[string]int),
		failBatch: make(map[int]bool),
		keyOwners: make(map[string]string),
	}
}

func (f *fakeUpstream) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeUpstream) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["user_new"] + f.calls["key_generate"] + f.calls["key_delete"] + f.calls["user_delete"]
}

func (f *fakeUpstream) statusFor(op string) (int, bool) {
	code, ok := f.status[op]
	return code, ok
}

func (f *fakeUpstream) GetUserInfo(_ context.Context, userID string) (*litellm.Result[litellm.UserInfoResponse], error) {
	if f.onGetUserInfo != nil {
		f.onGetUserInfo()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["user_info"]++
	if code, ok := f.statusFor("user_info"); ok {
		return &litellm.Result[litellm.UserInfoResponse]{StatusCode: code}, nil
	}

	// Unknown users still come back as 200 with an empty user_info.
	resp := litellm.UserInfoResponse{UserID: ptr(userID), UserInfo: &litellm.UserInfo{Spend: ptr(0.0)}}
	if acct, ok := f.accounts[userID]; ok {
		resp.UserInfo = &litellm.UserInfo{
			UserID:         ptr(acct.UserID),
			MaxBudget:      ptr(acct.MaxBudget),
			BudgetDuration: ptr(acct.BudgetDuration),
			Spend:          ptr(1.5),
		}
	}
	return &litellm.Result[litellm.UserInfoResponse]{StatusCode: http.StatusOK, Data: &resp}, nil
}

func (f *fakeUpstream) NewUser(_ context.Context, body litellm.NewUserRequest) (*litellm.Result[litellm.NewUserResponse], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["user_new"]++
	if code, ok := f.statusFor("user_new"); ok {
		return &litellm.Result[litellm.NewUserResponse]{StatusCode: code}, nil
	}
	if _, exists := f.accounts[body.UserID]; exists {
		return &litellm.Result[litellm.NewUserResponse]{
			StatusCode: http.StatusBadRequest,
			ErrorBody:  `{"error":{"message":"User with id already exists"}}`,
		}, nil
	}
	f.accounts[body.UserID] = body
	return &litellm.Result[litellm.NewUserResponse]{StatusCode: http.StatusOK, Data: &litellm.NewUserResponse{
		UserID:         ptr(body.UserID),
		MaxBudget:      ptr(body.MaxBudget),
		BudgetDuration: ptr(body.BudgetDuration),
		Spend:          ptr(0.0),
	}}, nil
}

func (f *fakeUpstream) GenerateKey(_ context.Context, userID string) (*litellm.Result[litellm.GenerateKeyResponse], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["key_generate"]++
	if code, ok := f.statusFor("key_generate"); ok {
		return &litellm.Result[litellm.GenerateKeyResponse]{StatusCode: code}, nil
	}
	token := f.nextToken
	if token == "" {
		token = "tok-1"
	}
	f.keyOwners[token] = userID
	return &litellm.Result[litellm.GenerateKeyResponse]{StatusCode: http.StatusOK, Data: &litellm.GenerateKeyResponse{
		Token:  ptr(token),
		Key:    ptr("sk-secret"),
		UserID: ptr(userID),
	}}, nil
}

func (f *fakeUpstream) ListKeys(_ context.Context, _ string, page int) (*litellm.Result[litellm.ListKeysResponse], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["key_list"]++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if code, ok := f.statusFor("key_list"); ok {
		return &litellm.Result[litellm.ListKeysResponse]{StatusCode: code}, nil
	}
	if page < 1 || page > len(f.keyPages) {
		return &litellm.Result[litellm.ListKeysResponse]{StatusCode: http.StatusOK, Data: &litellm.ListKeysResponse{}}, nil
	}
	p := f.keyPages[page-1]
	return &litellm.Result[litellm.ListKeysResponse]{StatusCode: http.StatusOK, Data: &p}, nil
}

func (f *fakeUpstream) KeyInfo(_ context.Context, key string) (*litellm.Result[litellm.KeyInfoResponse], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["key_info"]++
	if code, ok := f.statusFor("key_info"); ok {
		return &litellm.Result[litellm.KeyInfoResponse]{StatusCode: code}, nil
	}
	owner, ok := f.keyOwners[key]
	if !ok {
		return &litellm.Result[litellm.KeyInfoResponse]{StatusCode: http.StatusNotFound}, nil
	}
	return &litellm.Result[litellm.KeyInfoResponse]{StatusCode: http.StatusOK, Data: &litellm.KeyInfoResponse{
		Key:  ptr(key),
		Info: &litellm.KeyInfo{UserID: ptr(owner)},
	}}, nil
}

func (f *fakeUpstream) DeleteKeys(_ context.Context, keys []string) (*litellm.Result[litellm.StatusResponse], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["key_delete"]++
	f.deletedKeys = append(f.deletedKeys, keys)
	code := http.StatusOK
	if c, ok := f.statusFor("key_delete"); ok {
		code = c
	}
	return &litellm.Result[litellm.StatusResponse]{StatusCode: code}, nil
}

func (f *fakeUpstream) ListAllUserIDs(_ context.Context, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["user_list"]++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string(nil), f.userIDs...), nil
}

func (f *fakeUpstream) DeleteUsers(_ context.Context, ids []string) (*litellm.Result[litellm.StatusResponse], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["user_delete"]++
	f.deleteCalls++
	if f.failBatch[f.deleteCalls] {
		return &litellm.Result[litellm.StatusResponse]{StatusCode: http.StatusInternalServerError}, nil
	}
	f.deletedUsers = append(f.deletedUsers, ids)
	return &litellm.Result[litellm.StatusResponse]{StatusCode: http.StatusOK}, nil
}

func (f *fakeUpstream) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, batch := range f.deletedUsers {
		out = append(out, batch...)
	}
	return out
}

func rawKeys(values ...any) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		b, _ := json.Marshal(v)
		out = append(out, b)
	}
	return out
}
