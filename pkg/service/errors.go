package service

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Sentinels checked with errors.Is by the HTTP layer.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrTooManyTries = errors.New("too many attempts")
)

// statusError carries a human readable message and unwraps to one of the sentinels.
type statusError struct {
	kind error
	msg  string
}

func (e *statusError) Error() string { return e.msg }
func (e *statusError) Unwrap() error { return e.kind }

func notFound(entity string) error {
	return &statusError{kind: ErrNotFound, msg: entity + " not found"}
}

func conflictf(format string, args ...any) error {
	return &statusError{kind: ErrConflict, msg: fmt.Sprintf(format, args...)}
}

func unauthorized(msg string) error {
	return &statusError{kind: ErrUnauthorized, msg: msg}
}

func forbidden(msg string) error {
	return &statusError{kind: ErrForbidden, msg: msg}
}

func tooManyTries(msg string) error {
	return &statusError{kind: ErrTooManyTries, msg: msg}
}

// FieldError is one entry of a validation failure.
type FieldError struct {
	Type     string   `json:"type"`
	Location []string `json:"location"`
	Message  string   `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = strings.Join(f.Location, ".") + ": " + f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func invalid(msg string, location ...string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Type: "value_error", Location: location, Message: msg}}}
}

// validation collects field errors and yields nil when there are none.
type validation struct {
	fields []FieldError
}

func (v *validation) add(msg string, location ...string) {
	v.fields = append(v.fields, FieldError{Type: "value_error", Location: location, Message: msg})
}

func (v *validation) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

// translate maps gorm's not found error to ErrNotFound for entity.
func translate(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(entity)
	}
	return err
}
