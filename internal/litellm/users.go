package litellm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ListAllUserIDs returns every user id known to the upstream, in page order.
// The first page reports the page count; the remaining pages are fetched
// concurrently. Missing pagination metadata is treated as a single page.
func (c *Client) ListAllUserIDs(ctx context.Context, pageSize int) ([]string, error) {
	if pageSize <= 0 {
		pageSize = DefaultUserPageSize
	}

	first, err := c.ListUsers(ctx, 1, pageSize)
	if err != nil {
		return nil, err
	}
	if !first.OK() {
		return nil, fmt.Errorf("list users: page 1: response status %d", first.StatusCode)
	}

	totalPages, err := pageCount(*first.Data, pageSize)
	if err != nil {
		return nil, err
	}

	pages := make([][]string, totalPages)
	pages[0] = userIDs(first.Data.Users)

	if totalPages > 1 {
		var mu sync.Mutex
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(maxParallelPages)
		for page := 2; page <= totalPages; page++ {
			group.Go(func() error {
				res, err := c.ListUsers(groupCtx, page, pageSize)
				if err != nil {
					return err
				}
				if !res.OK() {
					return fmt.Errorf("list users: page %d: response status %d", page, res.StatusCode)
				}
				mu.Lock()
				pages[page-1] = userIDs(res.Data.Users)
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
	}

	var ids []string
	for _, p := range pages {
		ids = append(ids, p...)
	}
	return ids, nil
}

// pageCount validates the reported page count before anything is sized from
// it. It must stay within maxUserPages and, when the response carries a total,
// agree with total and page size.
func pageCount(first ListUsersResponse, requestedSize int) (int, error) {
	if first.TotalPages == nil || *first.TotalPages <= 1 {
		return 1, nil
	}
	pages := *first.TotalPages
	if pages > maxUserPages {
		return 0, fmt.Errorf("list users: %d pages exceeds the limit of %d", pages, maxUserPages)
	}
	if first.Total != nil {
		size := requestedSize
		if first.PageSize != nil && *first.PageSize > 0 {
			size = *first.PageSize
		}
		if expected := max(1, (*first.Total+size-1)/size); pages > expected {
			return 0, fmt.Errorf("list users: %d pages reported for %d users of page size %d", pages, *first.Total, size)
		}
	}
	return pages, nil
}

func userIDs(users []ListedUser) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.UserID != nil && *u.UserID != "" {
			ids = append(ids, *u.UserID)
		}
	}
	return ids
}
