package fastmail

import (
	"errors"
	"fmt"
	"strings"

	"git.sr.ht/~rockorager/go-jmap"
)

// ErrCapabilityMissing is returned when the session has no account for
// the masked email capability, usually because the API token was
// created without the Masked Email scope.
var ErrCapabilityMissing = errors.New("masked email capability not found: " +
	"create an API token with the Masked Email scope")

// AuthError indicates that authentication has failed or expired.
// It is returned when a 401 or 403 response is received.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf(
		"authentication failed (%d): %s; run 'tmail login' to store a new token",
		e.StatusCode, e.Message,
	)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// MethodError is a method-level JMAP error, returned in place of the
// whole method response.
type MethodError struct {
	Method      string
	Type        string
	Description string
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Method, explain(e.Type, e.Description, nil))
}

// SetError is a per-record failure from a /set call.
type SetError struct {
	// ID is the record id, or the creation id for failed creates.
	ID          string
	Type        string
	Description string
	Properties  []string
}

func (e *SetError) Error() string {
	return explain(e.Type, e.Description, e.Properties)
}

// IsSetErrorType reports whether err carries a SetError of the given type.
func IsSetErrorType(err error, errType string) bool {
	var setErr *SetError
	return errors.As(err, &setErr) && setErr.Type == errType
}

// errorText holds user-facing explanations for known JMAP error types.
var errorText = map[string]string{
	"rateLimit":                   "rate limit reached: too many masked emails were created recently, try again later",
	"forbidden":                   "forbidden: the API token is not allowed to do this",
	"notFound":                    "masked email not found on the server",
	"invalidProperties":           "invalid properties",
	"invalidArguments":            "invalid arguments",
	"invalidPatch":                "invalid patch",
	"overQuota":                   "over quota: the account cannot hold more masked emails",
	"tooLarge":                    "the request is too large",
	"singleton":                   "the object cannot be created or destroyed",
	"accountNotFound":             "account not found: run 'tmail login' again",
	"accountNotSupportedByMethod": "the account does not support masked emails",
	"accountReadOnly":             "the account is read-only",
	"serverFail":                  "the server failed to process the request",
	"serverUnavailable":           "the server is temporarily unavailable",
	"serverPartialFail":           "the server only partially processed the request",
	"unknownMethod":               "the server does not know this method",
	"cannotCalculateChanges":      "the server cannot calculate changes",
	"requestTooLarge":             "the request is too large",
	"stateMismatch":               "the data changed on the server, try again",
}

// explain renders an error type, optional server description and the
// affected properties as a single message.
func explain(errType, description string, properties []string) string {
	msg, ok := errorText[errType]
	if !ok {
		msg = errType
	}
	if len(properties) > 0 {
		msg += " (" + strings.Join(properties, ", ") + ")"
	}
	if description != "" && description != msg {
		msg += ": " + description
	}
	return msg
}

func wrapSetError(id jmap.ID, err *jmap.SetError) error {
	if err == nil {
		return &SetError{ID: string(id), Type: "unknown"}
	}
	e := &SetError{ID: string(id), Type: err.Type}
	if err.Description != nil {
		e.Description = *err.Description
	}
	if err.Properties != nil {
		e.Properties = *err.Properties
	}
	return e
}

func wrapMethodError(method string, err *jmap.MethodError) error {
	e := &MethodError{Method: method, Type: err.Type}
	if err.Description != nil {
		e.Description = *err.Description
	}
	return e
}
