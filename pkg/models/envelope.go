package models

import (
	"errors"
	"strings"
)

// Envelope wraps every API response.
type Envelope[T any] struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
	Results T        `json:"results"`
}

// Err returns nil for successful envelopes and otherwise an error built
// from the message and error list.
func (e Envelope[T]) Err() error {
	if e.Success {
		return nil
	}
	parts := make([]string, 0, len(e.Errors)+1)
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	parts = append(parts, e.Errors...)
	if len(parts) == 0 {
		return errors.New("request was not successful")
	}
	return errors.New(strings.Join(parts, "; "))
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Data            []T  `json:"data"`
	Page            int  `json:"page"`
	PageSize        int  `json:"pageSize"`
	TotalCount      int  `json:"totalCount"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}
