package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/haasonsaas/eventlive/pkg/models"
)

// maxRegistrationPages bounds FindRegistration against servers that never
// report a last page.
const maxRegistrationPages = 1000

func registrationPath(id string) string {
	return "/api/Registration/" + url.PathEscape(id)
}

// ListRegistrations returns the signed-in user's registrations.
func (c *Client) ListRegistrations(ctx context.Context, page, pageSize int) (*models.Page[models.Registration], error) {
	var out models.Page[models.Registration]
	if err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/Registration",
		path:   "/api/Registration",
		query:  pageQuery(page, pageSize),
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	var out models.Registration
	if err := c.do(ctx, request{method: http.MethodGet, route: "/api/Registration/{id}", path: registrationPath(id)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListEventRegistrations returns one page of an event's registrations.
func (c *Client) ListEventRegistrations(ctx context.Context, eventID string, page, pageSize int) (*models.Page[models.Registration], error) {
	var out models.Page[models.Registration]
	if err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/Registration/event/{eventId}",
		path:   "/api/Registration/event/" + url.PathEscape(eventID),
		query:  pageQuery(page, pageSize),
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindRegistration pages through the event's registrations looking for
// userID. It returns nil, nil when there is none.
func (c *Client) FindRegistration(ctx context.Context, eventID, userID string) (*models.Registration, error) {
	for page := 1; page <= maxRegistrationPages; page++ {
		res, err := c.ListEventRegistrations(ctx, eventID, page, c.pageSize)
		if err != nil {
			return nil, fmt.Errorf("list registrations page %d: %w", page, err)
		}
		for i := range res.Data {
			if res.Data[i].UserID == userID {
				reg := res.Data[i]
				return &reg, nil
			}
		}
		if !res.HasNextPage || len(res.Data) == 0 {
			return nil, nil
		}
	}
	return nil, nil
}

// CreateRegistration registers the signed-in user for eventID.
func (c *Client) CreateRegistration(ctx context.Context, eventID string) (*models.Registration, error) {
	var out models.Registration
	if err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/Registration",
		path:   "/api/Registration",
		body:   models.RegistrationRequest{EventID: eventID},
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckIn(ctx context.Context, registrationID string) (*models.Registration, error) {
	return c.patchRegistration(ctx, registrationID, "checkin")
}

func (c *Client) CheckOut(ctx context.Context, registrationID string) (*models.Registration, error) {
	return c.patchRegistration(ctx, registrationID, "checkout")
}

func (c *Client) patchRegistration(ctx context.Context, id, action string) (*models.Registration, error) {
	var out models.Registration
	if err := c.do(ctx, request{
		method: http.MethodPatch,
		route:  "/api/Registration/{id}/" + action,
		path:   registrationPath(id) + "/" + action,
	}, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = id
	}
	return &out, nil
}
