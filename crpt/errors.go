/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package crpt

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors that may be used with errors.Is.
var (
	ErrTransport       = errors.New("document submission transport failed")
	ErrRemoteRejection = errors.New("document rejected by remote API")
	ErrInvalidDocument = errors.New("invalid document")
)

// TransportError is returned when the document cannot be serialized, sent or its response cannot be read.
type TransportError struct {
	// Op is a failed operation: "marshal", "send" or "read".
	Op    string
	Inner error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s document: %s", e.Op, e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *TransportError) Unwrap() error {
	return e.Inner
}

// Is reports whether the error matches ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// RemoteRejectionError is returned when the remote API responds with a non-2xx status code.
type RemoteRejectionError struct {
	StatusCode int
	Body       []byte
}

func (e *RemoteRejectionError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("document rejected by remote API with status code %d", e.StatusCode)
	}
	return fmt.Sprintf("document rejected by remote API with status code %d: %s", e.StatusCode, e.Body)
}

// Is reports whether the error matches ErrRemoteRejection.
func (e *RemoteRejectionError) Is(target error) bool {
	return target == ErrRemoteRejection
}

// FieldError represents a single validation error for a specific field.
type FieldError struct {
	Field string `json:"field"`
	Err   string `json:"error"`
}

// ValidationError is returned when the document or the signature is invalid.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Err
	}
	return ErrInvalidDocument.Error() + ": " + strings.Join(parts, "; ")
}

// Is reports whether the error matches ErrInvalidDocument.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidDocument
}
