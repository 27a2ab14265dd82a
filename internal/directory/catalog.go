// Package directory reads users and groups from a software catalog over HTTP.
package directory

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/llmportal/orchestrator/internal/model"
)

const (
	// DefaultTimeout bounds every catalog request.
	DefaultTimeout = 10 * time.Second
	retryCount     = 2
)

// Catalog is a read-only client for a Backstage-compatible catalog API.
type Catalog struct {
	client *resty.Client
}

// CatalogOptions configures a Catalog.
type CatalogOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewCatalog creates a Catalog client.
func NewCatalog(opts CatalogOptions) *Catalog {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(retryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryCondition)
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}

	return &Catalog{client: client}
}

// retryCondition retries network errors and server errors.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	return r.StatusCode() >= http.StatusInternalServerError
}

// GetEntityByRef fetches one entity. Returns nil and no error when the
// catalog does not know it.
func (c *Catalog) GetEntityByRef(ctx context.Context, ref string) (*model.Entity, error) {
	parsed, err := model.ParseEntityRef(ref)
	if err != nil {
		return nil, fmt.Errorf("get entity %q: %w", ref, err)
	}

	var entity model.Entity
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"kind":      strings.ToLower(parsed.Kind),
			"namespace": parsed.Namespace,
			"name":      parsed.Name,
		}).
		SetResult(&entity).
		Get("/api/catalog/entities/by-name/{kind}/{namespace}/{name}")
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", ref, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, nil
	case !resp.IsSuccess():
		return nil, fmt.Errorf("get entity %s: response status %d", ref, resp.StatusCode())
	}
	return &entity, nil
}

// ListEntities lists entities, filtered by kind when set.
func (c *Catalog) ListEntities(ctx context.Context, filter model.EntityFilter) ([]model.Entity, error) {
	req := c.client.R().SetContext(ctx)
	if filter.Kind != "" {
		req.SetQueryParam("filter", "kind="+strings.ToLower(filter.Kind))
	}

	var entities []model.Entity
	resp, err := req.SetResult(&entities).Get("/api/catalog/entities")
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("list entities: response status %d", resp.StatusCode())
	}
	return entities, nil
}
