// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNoRecipients = errors.New("no recipients")
	ErrAlreadySent  = errors.New("campaign already sent or in progress")
	ErrInvalidState = errors.New("invalid campaign state")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// ErrCampaignNotFound is returned when a campaign id does not exist.
type ErrCampaignNotFound struct {
	CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func (e *ErrCampaignNotFound) Is(target error) bool {
	return target == ErrNotFound
}

// Helper constructor
func NewCampaignNotFound(id int64) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ValidationError carries per-field messages for a rejected request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// InvalidStateError reports an action that conflicts with the campaign lifecycle.
type InvalidStateError struct {
	CampaignID int64
	Status     string
	Action     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s campaign %d in status %s", e.Action, e.CampaignID, e.Status)
}

func (e *InvalidStateError) Is(target error) bool {
	if target == ErrInvalidState {
		return true
	}
	return target == ErrAlreadySent && e.Action == "send"
}

func NewInvalidState(id int64, status, action string) error {
	return &InvalidStateError{CampaignID: id, Status: status, Action: action}
}

// NewAlreadySent is the send-specific InvalidStateError; it matches both ErrAlreadySent and ErrInvalidState.
func NewAlreadySent(id int64, status string) error {
	return &InvalidStateError{CampaignID: id, Status: status, Action: "send"}
}

// HTTPStatus maps the taxonomy onto response codes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNoRecipients):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadySent):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
