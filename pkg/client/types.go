package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/registry"
	"github.com/loykin/taskvisor/internal/sysinfo"
)

// Wire types shared with the daemon.
type (
	Application   = model.ManagedApplication
	ScheduleRule  = model.ScheduleRule
	ScheduledRule = registry.ScheduledRule
	SystemInfo    = sysinfo.Info
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 (duplicate id) from the daemon.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusConflict
}

type runningResponse struct {
	ID      string `json:"id"`
	Running bool   `json:"running"`
}
