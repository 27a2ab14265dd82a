// Package litellm is a thin client for the LiteLLM proxy admin API.
// It reports status codes and decoded bodies as they are; deciding what a
// status means is left to the caller.
package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/llmportal/orchestrator/internal/metrics"
)

const (
	// DefaultTimeout bounds every upstream request.
	DefaultTimeout = 15 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 5 * time.Second
	// DefaultUserPageSize is the page size used when listing all users.
	DefaultUserPageSize = 100
	// maxParallelPages bounds concurrent page fetches in ListAllUserIDs.
	maxParallelPages = 4
	// maxUserPages bounds the page count accepted from /user/list.
	maxUserPages = 10000
	maxErrorBody = 512
)

// Result is a decoded upstream response. Data is nil when the upstream
// answered with a non-2xx status or an empty body; in the former case
// ErrorBody holds the raw response text.
type Result[T any] struct {
	StatusCode int
	Data       *T
	ErrorBody  string
}

// OK returns true for a 2xx response that carried a body.
func (r *Result[T]) OK() bool {
	return r != nil && r.Data != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Client talks to the upstream gateway using the master key.
type Client struct {
	http    *resty.Client
	metrics metrics.Recorder
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	MasterKey string
	Timeout   time.Duration
	Recorder  metrics.Recorder
}

// New creates a Client.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   DialTimeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}

	rc := resty.New().
		SetTransport(transport).
		SetBaseURL(opts.BaseURL).
		SetAuthToken(opts.MasterKey).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRedirectPolicy(resty.NoRedirectPolicy())

	return &Client{http: rc, metrics: recorder}
}

// UserInfo is the account record nested in a /user/info response.
type UserInfo struct {
	UserID         *string  `json:"user_id"`
	MaxBudget      *float64 `json:"max_budget"`
	BudgetDuration *string  `json:"budget_duration"`
	Spend          *float64 `json:"spend"`
}

// UserInfoResponse is the body of GET /user/info.
type UserInfoResponse struct {
	UserID   *string   `json:"user_id"`
	UserInfo *UserInfo `json:"user_info"`
}

// NewUserRequest is the body of POST /user/new.
type NewUserRequest struct {
	UserID         string  `json:"user_id"`
	MaxBudget      float64 `json:"max_budget"`
	BudgetDuration string  `json:"budget_duration"`
	AutoCreateKey  bool    `json:"auto_create_key"`
}

// NewUserResponse is the body of POST /user/new.
type NewUserResponse struct {
	UserID         *string  `json:"user_id"`
	MaxBudget      *float64 `json:"max_budget"`
	BudgetDuration *string  `json:"budget_duration"`
	Spend          *float64 `json:"spend"`
}

// GenerateKeyResponse is the body of POST /key/generate.
type GenerateKeyResponse struct {
	Token  *string `json:"token"`
	Key    *string `json:"key"`
	UserID *string `json:"user_id"`
}

// ListKeysResponse is the body of GET /key/list.
// Keys holds objects when return_full_object is set and bare token strings otherwise.
type ListKeysResponse struct {
	Keys        []json.RawMessage `json:"keys"`
	CurrentPage *int              `json:"current_page"`
	TotalPages  *int              `json:"total_pages"`
	TotalCount  *int              `json:"total_count"`
}

// ListedUser is one entry of a /user/list response.
type ListedUser struct {
	UserID *string `json:"user_id"`
}

// ListUsersResponse is the body of GET /user/list.
type ListUsersResponse struct {
	Users      []ListedUser `json:"users"`
	Total      *int         `json:"total"`
	Page       *int         `json:"page"`
	PageSize   *int         `json:"page_size"`
	TotalPages *int         `json:"total_pages"`
}

// KeyInfo is the metadata LiteLLM stores for a key.
type KeyInfo struct {
	UserID *string `json:"user_id"`
}

// KeyInfoResponse is the body of GET /key/info.
type KeyInfoResponse struct {
	Key  *string  `json:"key"`
	Info *KeyInfo `json:"info"`
}

// StatusResponse is used for endpoints whose only result is the status code.
type StatusResponse map[string]any

// GetUserInfo calls GET /user/info.
func (c *Client) GetUserInfo(ctx context.Context, userID string) (*Result[UserInfoResponse], error) {
	req := c.http.R().SetQueryParam("user_id", userID)
	return execute[UserInfoResponse](ctx, c, "user_info", req, http.MethodGet, "/user/info")
}

// NewUser calls POST /user/new.
func (c *Client) NewUser(ctx context.Context, body NewUserRequest) (*Result[NewUserResponse], error) {
	req := c.http.R().SetBody(body)
	return execute[NewUserResponse](ctx, c, "user_new", req, http.MethodPost, "/user/new")
}

// GenerateKey calls POST /key/generate for userID.
func (c *Client) GenerateKey(ctx context.Context, userID string) (*Result[GenerateKeyResponse], error) {
	req := c.http.R().SetBody(map[string]string{"user_id": userID})
	return execute[GenerateKeyResponse](ctx, c, "key_generate", req, http.MethodPost, "/key/generate")
}

// ListKeys calls GET /key/list for one page, requesting full key objects.
func (c *Client) ListKeys(ctx context.Context, userID string, page int) (*Result[ListKeysResponse], error) {
	req := c.http.R().SetQueryParams(map[string]string{
		"user_id":            userID,
		"return_full_object": "true",
		"page":               strconv.Itoa(page),
	})
	return execute[ListKeysResponse](ctx, c, "key_list", req, http.MethodGet, "/key/list")
}

// KeyInfo calls GET /key/info for a key token.
func (c *Client) KeyInfo(ctx context.Context, key string) (*Result[KeyInfoResponse], error) {
	req := c.http.R().SetQueryParam("key", key)
	return execute[KeyInfoResponse](ctx, c, "key_info", req, http.MethodGet, "/key/info")
}

// DeleteKeys calls POST /key/delete.
func (c *Client) DeleteKeys(ctx context.Context, keys []string) (*Result[StatusResponse], error) {
	req := c.http.R().SetBody(map[string][]string{"keys": keys})
	return execute[StatusResponse](ctx, c, "key_delete", req, http.MethodPost, "/key/delete")
}

// ListUsers calls GET /user/list for one page.
func (c *Client) ListUsers(ctx context.Context, page, pageSize int) (*Result[ListUsersResponse], error) {
	req := c.http.R().SetQueryParams(map[string]string{
		"page":      strconv.Itoa(page),
		"page_size": strconv.Itoa(pageSize),
	})
	return execute[ListUsersResponse](ctx, c, "user_list", req, http.MethodGet, "/user/list")
}

// DeleteUsers calls POST /user/delete.
func (c *Client) DeleteUsers(ctx context.Context, userIDs []string) (*Result[StatusResponse], error) {
	req := c.http.R().SetBody(map[string][]string{"user_ids": userIDs})
	return execute[StatusResponse](ctx, c, "user_delete", req, http.MethodPost, "/user/delete")
}

// Ping calls the unauthenticated liveness endpoint of the proxy.
func (c *Client) Ping(ctx context.Context) error {
	res, err := execute[json.RawMessage](ctx, c, "health", c.http.R(), http.MethodGet, "/health/liveliness")
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("health: response status %d", res.StatusCode)
	}
	return nil
}

// execute sends req and decodes a successful body into T.
// Transport failures are returned as errors; HTTP failures are not.
func execute[T any](ctx context.Context, c *Client, op string, req *resty.Request, method, path string) (*Result[T], error) {
	start := time.Now()
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		c.metrics.ObserveUpstreamCall(op, "error", time.Since(start))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.metrics.ObserveUpstreamCall(op, strconv.Itoa(resp.StatusCode()), time.Since(start))

	result := &Result[T]{StatusCode: resp.StatusCode()}
	if !resp.IsSuccess() {
		result.ErrorBody = truncate(resp.String(), maxErrorBody)
		return result, nil
	}
	if len(resp.Body()) == 0 {
		return result, nil
	}

	var data T
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	result.Data = &data
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
