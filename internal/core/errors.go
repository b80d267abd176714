package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"tracker/internal/ids"
)

// Error kinds. Every error returned by the core wraps exactly one of these.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrHierarchyViolation = errors.New("hierarchy violation")
	ErrUnknownStatus      = errors.New("unknown status")
	ErrCrossProject       = errors.New("cross-project violation")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrStorage            = errors.New("storage failure")
)

// FieldError is a validation message for one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error carries a kind, a human readable message and optional per-field
// validation messages.
type Error struct {
	Kind    error
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Is(target error) bool { return e.Kind == target }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func notFound(entity, id string) error {
	return newError(ErrNotFound, "%s %s not found", entity, id)
}

func invalidf(format string, args ...any) error {
	return newError(ErrInvalidInput, format, args...)
}

func hierarchyf(format string, args ...any) error {
	return newError(ErrHierarchyViolation, format, args...)
}

// StorageError wraps a driver failure. Stores use it for anything that is
// not a missing row.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: ErrStorage, Message: op, Err: err}
}

// NotFoundError is returned by stores when a lookup misses.
func NotFoundError(entity, id string) error {
	return notFound(entity, id)
}

// KindOf returns the error kind of err, or ErrStorage for foreign errors.
func KindOf(err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrStorage
}

// FieldsOf returns per-field messages carried by err, if any.
func FieldsOf(err error) []FieldError {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Fields
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = validate.RegisterValidation("id", func(fl validator.FieldLevel) bool {
		return ids.Valid(fl.Field().String())
	})
}

// validateStruct runs the validator and folds its report into an
// ErrInvalidInput error.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Kind: ErrInvalidInput, Message: "malformed input", Err: err}
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return &Error{Kind: ErrInvalidInput, Message: "validation failed", Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "id":
		return fe.Field() + " must be a valid identifier"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "dive":
		return fe.Field() + " contains an invalid value"
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
