package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/haasonsaas/eventlive/pkg/models"
)

func pageQuery(page, pageSize int) url.Values {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return url.Values{
		"page":     {strconv.Itoa(page)},
		"pageSize": {strconv.Itoa(pageSize)},
	}
}

func eventPath(id string) string {
	return "/api/Event/" + url.PathEscape(id)
}

// ListEvents returns one page of events.
func (c *Client) ListEvents(ctx context.Context, page, pageSize int) (*models.Page[models.Event], error) {
	var out models.Page[models.Event]
	if err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/Event",
		path:   "/api/Event",
		query:  pageQuery(page, pageSize),
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEvent returns one event. Missing events yield an error matching ErrNotFound.
func (c *Client) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var out models.Event
	if err := c.do(ctx, request{method: http.MethodGet, route: "/api/Event/{id}", path: eventPath(id)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateEvent(ctx context.Context, in models.EventInput) (*models.Event, error) {
	var out models.Event
	if err := c.do(ctx, request{method: http.MethodPost, route: "/api/Event", path: "/api/Event", body: in}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateEvent(ctx context.Context, id string, in models.EventInput) (*models.Event, error) {
	var out models.Event
	if err := c.do(ctx, request{method: http.MethodPut, route: "/api/Event/{id}", path: eventPath(id), body: in}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	return c.do(ctx, request{method: http.MethodDelete, route: "/api/Event/{id}", path: eventPath(id)}, nil)
}
