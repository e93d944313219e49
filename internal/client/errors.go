package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies a failed operation.
type Kind int

const (
	// KindServer is any non-2xx response that is not an auth rejection.
	KindServer Kind = iota
	// KindNetwork means no response was received.
	KindNetwork
	// KindAuth means credentials or tokens were rejected.
	KindAuth
	// KindValidation means the request was rejected locally before sending.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	default:
		return "server"
	}
}

// NetworkMessage is shown when no response was received.
const NetworkMessage = "Network error. Please check your connection."

var (
	// ErrNoRefreshToken is returned when a refresh is needed but no refresh
	// token is stored.
	ErrNoRefreshToken = errors.New("no refresh token stored")
	// ErrTokensReplaced is wrapped by a refresh failure when the token pair
	// was cleared or replaced while the exchange was in flight.
	ErrTokensReplaced = errors.New("token pair changed during refresh")
)

// Error is the failure result of an API operation.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: request failed with status %d", e.Op, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + " failed"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err. Errors that are not an *Error or a
// *ValidationError are treated as network failures.
func KindOf(err error) Kind {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return KindValidation
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindNetwork
}

// IsAuth returns true if err is an auth rejection.
func IsAuth(err error) bool {
	return err != nil && KindOf(err) == KindAuth
}

// WithFallback fills in message on an *Error that carries no server-supplied
// message. Network errors always get NetworkMessage.
func WithFallback(err error, message string) error {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.Message != "" {
		return err
	}
	out := *apiErr
	if out.Kind == KindNetwork {
		out.Message = NetworkMessage
	} else {
		out.Message = message
	}
	return &out
}

// errorBody is the failure payload returned by the backend.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func kindForStatus(status int) Kind {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return KindAuth
	}
	return KindServer
}

// decodeError builds an *Error from a non-2xx response, taking the message
// from the JSON payload when present.
func decodeError(op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	apiErr := &Error{
		Kind:   kindForStatus(resp.StatusCode),
		Op:     op,
		Status: resp.StatusCode,
	}

	var payload errorBody
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			apiErr.Message = payload.Error
		} else if payload.Message != "" {
			apiErr.Message = payload.Message
		}
	}

	return apiErr
}

// ValidationError reports form fields rejected before a request is sent.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError creates an empty validation error.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string]string{}}
}

// Add records a problem with field. The first problem per field wins.
func (v *ValidationError) Add(field, problem string) {
	if _, ok := v.Fields[field]; !ok {
		v.Fields[field] = problem
	}
}

// Required records field as missing when value is blank.
func (v *ValidationError) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "is required")
	}
}

// OrNil returns v as an error if any field was rejected, else nil.
func (v *ValidationError) OrNil() error {
	if len(v.Fields) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	names := make([]string, 0, len(v.Fields))
	for name := range v.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+v.Fields[name])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}
