package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNetwork marks connectivity failures: the backend was never reached or the
// connection broke before a response arrived.
var ErrNetwork = errors.New("network error, try again")

// APIError is a non-2xx backend response. Message is the backend's own
// message when the payload carries one.
type APIError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// messagePaths are tried in order; the backend framework is not consistent
// about where it puts the human readable error.
var messagePaths = []string{
	"detail",
	"message",
	"error",
	"errors.0",
	"non_field_errors.0",
}

func newAPIError(status int, body []byte) *APIError {
	return &APIError{
		Status:  status,
		Message: extractMessage(status, body),
		Body:    body,
	}
}

func extractMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range messagePaths {
			res := gjson.GetBytes(body, path)
			if !res.Exists() {
				continue
			}
			if res.IsObject() || res.IsArray() {
				// e.g. {"error": {"message": "..."}}
				if inner := res.Get("message"); inner.Exists() {
					return inner.String()
				}
				continue
			}
			if msg := strings.TrimSpace(res.String()); msg != "" {
				return msg
			}
		}
		// field errors: {"email": ["already taken"]}
		var first string
		gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
			if value.IsArray() && len(value.Array()) > 0 {
				first = key.String() + ": " + value.Array()[0].String()
				return false
			}
			return true
		})
		if first != "" {
			return first
		}
	}
	return http.StatusText(status)
}

func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}
