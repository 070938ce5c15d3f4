package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound matches API responses for missing guilds, roles, members or messages.
var ErrNotFound = errors.New("platform: not found")

// APIError is a non-2xx response from the platform REST API.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("platform: status %d", e.Status)
	}
	return fmt.Sprintf("platform: status %d: %s (code %d)", e.Status, e.Message, e.Code)
}

// Is matches ErrNotFound for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// StatusOf extracts the HTTP status carried by err, or zero.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
