package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// StatusError is a non-success HTTP response. Message and Errors come from the
// response's "detail" payload when present.
type StatusError struct {
	StatusCode int
	Message    string
	Errors     []FieldError
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("contract service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("contract service returned %d: %s", e.StatusCode, e.Message)
}

// DecodeError is a success response whose body could not be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to parse response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Transient reports whether err is worth retrying: transport failures,
// timeouts, 5xx, 408 and 429. Cancellation is not transient.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return false
	}
	if se, ok := AsStatusError(err); ok {
		return se.StatusCode >= 500 ||
			se.StatusCode == http.StatusRequestTimeout ||
			se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

const maxMessageRunes = 200

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

type detailEnvelope struct {
	Detail any `json:"detail"`
}

func newStatusError(status int, body []byte) *StatusError {
	se := &StatusError{StatusCode: status}

	var env detailEnvelope
	if err := sonic.Unmarshal(body, &env); err != nil {
		se.Message = truncate(strings.TrimSpace(string(body)), maxMessageRunes)
		return se
	}

	switch detail := env.Detail.(type) {
	case string:
		se.Message = detail
	case map[string]any:
		se.Message, _ = detail["message"].(string)
		se.Errors = fieldErrors(detail["errors"])
	case []any:
		// Request-schema failures: a list of {loc, msg} entries.
		var msgs []string
		for _, item := range detail {
			if m, ok := item.(map[string]any); ok {
				if msg, ok := m["msg"].(string); ok {
					msgs = append(msgs, msg)
				}
			}
		}
		se.Message = strings.Join(msgs, "; ")
	}
	return se
}

func fieldErrors(raw any) []FieldError {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []FieldError
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		field, _ := m["field"].(string)
		message, _ := m["message"].(string)
		out = append(out, FieldError{Field: field, Message: message})
	}
	return out
}
