package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure so that callers can react to it without looking
// at HTTP status codes or transport errors.
type Kind int

const (
	// KindUnknown is used when no other kind matches.
	KindUnknown Kind = iota
	// KindNetwork means no response was received from the server.
	KindNetwork
	// KindAuthExpired means the server answered 401 Unauthorized.
	KindAuthExpired
	// KindForbidden means the server answered 403 Forbidden.
	KindForbidden
	// KindNotFound means the server answered 404 Not Found.
	KindNotFound
	// KindServer means the server answered with a 5xx status.
	KindServer
	// KindValidation is any other error status that carried a message from
	// the server. The message is surfaced verbatim.
	KindValidation
	// KindCachePersistence is a failure reading or writing the cache
	// snapshot. It is logged and never returned to fetch callers.
	KindCachePersistence
)

var kindNames = [...]string{
	KindUnknown:          "unknown",
	KindNetwork:          "network",
	KindAuthExpired:      "auth-expired",
	KindForbidden:        "forbidden",
	KindNotFound:         "not-found",
	KindServer:           "server",
	KindValidation:       "validation",
	KindCachePersistence: "cache-persistence",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

var userMessages = [...]string{
	KindUnknown:          "an unexpected error occurred",
	KindNetwork:          "connection error, check your network",
	KindAuthExpired:      "session expired, please log in again",
	KindForbidden:        "you do not have permission to perform this action",
	KindNotFound:         "resource not found",
	KindServer:           "server error, try again later",
	KindValidation:       "the request was rejected",
	KindCachePersistence: "cache could not be persisted",
}

// Message returns the short user-facing message for the kind.
func (k Kind) Message() string {
	if k < 0 || int(k) >= len(userMessages) {
		return userMessages[KindUnknown]
	}
	return userMessages[k]
}

// Sentinel errors, one per kind. Use errors.Is to test an error's kind:
//
//	if errors.Is(err, apierror.ErrAuthExpired) { ... }
var (
	ErrUnknown          = &Error{kind: KindUnknown}
	ErrNetwork          = &Error{kind: KindNetwork}
	ErrAuthExpired      = &Error{kind: KindAuthExpired}
	ErrForbidden        = &Error{kind: KindForbidden}
	ErrNotFound         = &Error{kind: KindNotFound}
	ErrServer           = &Error{kind: KindServer}
	ErrValidation       = &Error{kind: KindValidation}
	ErrCachePersistence = &Error{kind: KindCachePersistence}
)

// Error is the type of error returned by the API transport. It contains the
// error kind, the HTTP status code if a response was received, and the
// underlying cause.
type Error struct {
	kind   Kind
	status int
	msg    string
	err    error
}

// ErrorMessage is the error payload a server may send with a failed request.
// Detail is kept raw since some servers send a list of field errors there.
type ErrorMessage struct {
	Message string          `json:"message,omitempty"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

func New(kind Kind, status int, err error) *Error {
	return &Error{
		kind:   kind,
		status: status,
		err:    err,
	}
}

// WithMessage returns an Error whose user message is msg instead of the
// kind's default message.
func WithMessage(kind Kind, status int, msg string, err error) *Error {
	return &Error{
		kind:   kind,
		status: status,
		msg:    msg,
		err:    err,
	}
}

// FromStatus classifies a failed HTTP response. The checks are done in
// priority order: 401, 403, 404, 5xx, then any server supplied message.
func FromStatus(status int, body []byte) *Error {
	switch {
	case status == http.StatusUnauthorized:
		return New(KindAuthExpired, status, nil)
	case status == http.StatusForbidden:
		return New(KindForbidden, status, nil)
	case status == http.StatusNotFound:
		return New(KindNotFound, status, nil)
	case status >= http.StatusInternalServerError:
		return New(KindServer, status, nil)
	}
	if msg := DecodeMessage(body); msg != "" {
		return WithMessage(KindValidation, status, msg, nil)
	}
	return New(KindUnknown, status, nil)
}

// KindOf returns the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.kind
	}
	return KindUnknown
}

func (e *Error) Error() string {
	return e.UserMessage()
}

// Is reports whether target is an *Error of the same kind. This lets the
// package sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.kind == e.kind
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Status() int {
	return e.status
}

// UserMessage returns the short human-readable message suitable for showing
// to an end user. It never contains transport details.
func (e *Error) UserMessage() string {
	if e.msg != "" {
		return e.msg
	}
	return e.kind.Message()
}

// Text returns a detailed description of the error for logs, including the
// HTTP status and the underlying cause.
func (e *Error) Text() string {
	parts := make([]string, 0, 6)
	if e.status != 0 {
		parts = append(parts, fmt.Sprintf("%d", e.status))
		if text := http.StatusText(e.status); text != "" {
			parts = append(parts, " ", text)
		}
		parts = append(parts, ": ")
	}
	parts = append(parts, e.UserMessage())
	if e.err != nil {
		parts = append(parts, ": ", e.err.Error())
	}
	return strings.Join(parts, "")
}

func (e *Error) Unwrap() error {
	return e.err
}

// DecodeMessage extracts the server message from an error payload. The
// "message" field wins over "detail". A detail that is a list of objects with
// "msg" fields is joined with "; ". An empty string means no message.
func DecodeMessage(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var e ErrorMessage
	if err := json.Unmarshal(data, &e); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	if len(e.Detail) == 0 {
		return ""
	}
	var detail string
	if err := json.Unmarshal(e.Detail, &detail); err == nil {
		return strings.TrimSpace(detail)
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(e.Detail, &items); err != nil {
		return ""
	}
	msgs := make([]string, 0, len(items))
	for _, item := range items {
		if item.Msg != "" {
			msgs = append(msgs, item.Msg)
		}
	}
	return strings.Join(msgs, "; ")
}
