package scm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// APIError represents a non-2xx response from the remote service.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string

	// Details holds field-level validation messages, when present.
	Details []string
}

func (err *APIError) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s: HTTP %d: %s", err.Provider, err.StatusCode, err.Message)
	for _, detail := range err.Details {
		fmt.Fprintf(&builder, "; %s", detail)
	}
	return builder.String()
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized reports whether err is a 401 or 403 response.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized) || hasStatus(err, http.StatusForbidden)
}

// IsValidationFailed reports whether err is a 422 response.
func IsValidationFailed(err error) bool {
	return hasStatus(err, http.StatusUnprocessableEntity)
}

func hasStatus(err error, status int) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == status
}

// parseAPIError decodes the error bodies of both GitHub
// ({"message", "errors": [{resource, field, code, message}]}) and GitLab
// ({"message": string | object | [string]} or {"error": string}).
func parseAPIError(provider string, status int, body []byte) *APIError {
	apiError := &APIError{Provider: provider, StatusCode: status}

	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
		Errors  []struct {
			Resource string `json:"resource"`
			Field    string `json:"field"`
			Code     string `json:"code"`
			Message  string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		apiError.Message = strings.TrimSpace(string(body))
		if apiError.Message == "" {
			apiError.Message = http.StatusText(status)
		}
		return apiError
	}

	var text string
	var list []string
	var fields map[string][]string
	switch {
	case json.Unmarshal(payload.Message, &text) == nil:
		apiError.Message = text
	case json.Unmarshal(payload.Message, &list) == nil:
		apiError.Message = strings.Join(list, "; ")
	case json.Unmarshal(payload.Message, &fields) == nil:
		apiError.Message = "validation failed"
		for field, messages := range fields {
			apiError.Details = append(apiError.Details, field+": "+strings.Join(messages, ", "))
		}
		sort.Strings(apiError.Details)
	}
	if apiError.Message == "" {
		apiError.Message = payload.Error
	}
	if apiError.Message == "" {
		apiError.Message = http.StatusText(status)
	}

	for _, e := range payload.Errors {
		detail := e.Message
		if detail == "" {
			detail = e.Code
		}
		apiError.Details = append(apiError.Details, fmt.Sprintf("%s.%s: %s", e.Resource, e.Field, detail))
	}
	return apiError
}
