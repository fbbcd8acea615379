package transport

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/buger/jsonparser"
)

// maxPlainMessage caps how much of a plain text error body becomes the message.
const maxPlainMessage = 512

// APIError is a non-2xx API response.
type APIError struct {
	StatusCode int
	// Code is the JSON "error" field when the body also carries a "message".
	Code    string
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// newAPIError reads the message from a JSON {error, message} body, a plain
// text body, or falls back to a generic message. It never fails.
func newAPIError(resp *Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: resp.Body}

	trimmed := bytes.TrimSpace(resp.Body)
	switch {
	case len(trimmed) == 0:
	case trimmed[0] == '{':
		message, _ := jsonparser.GetString(trimmed, "message")
		code, _ := jsonparser.GetString(trimmed, "error")
		switch {
		case message != "":
			apiErr.Message = message
			apiErr.Code = code
		case code != "":
			apiErr.Message = code
		}
	case trimmed[0] == '[':
	case trimmed[0] == '"':
		if len(trimmed) >= 2 && trimmed[len(trimmed)-1] == '"' {
			if s, err := jsonparser.ParseString(trimmed[1 : len(trimmed)-1]); err == nil {
				apiErr.Message = strings.TrimSpace(s)
			}
		}
	default:
		if utf8.Valid(trimmed) {
			apiErr.Message = truncate(string(trimmed), maxPlainMessage)
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = genericMessage(resp.StatusCode)
	}
	return apiErr
}

func genericMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("request failed: %s", strings.ToLower(text))
	}
	return fmt.Sprintf("request failed with status %d", status)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 API response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsConflict reports whether err is a 409 API response.
func IsConflict(err error) bool {
	return StatusCode(err) == http.StatusConflict
}

// IsUnauthorized reports whether err is a 401 or 403 API response.
func IsUnauthorized(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// IsBadRequest reports whether err is a 400 or 422 API response.
func IsBadRequest(err error) bool {
	code := StatusCode(err)
	return code == http.StatusBadRequest || code == http.StatusUnprocessableEntity
}
