package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind класс ошибки, который видит вызывающая сторона
type Kind int

const (
	Unknown Kind = iota
	Unauthenticated
	Forbidden
	NotFound
	Conflict
	ValidationFailed
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case ValidationFailed:
		return "validation_failed"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error ошибка приложения с классом и сообщением для клиента
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Cause() error { return e.cause }

func (e *Error) Unwrap() error { return e.cause }

// New создает ошибку заданного класса
func New(kind Kind, message string) error {
	return errors.WithStack(&Error{Kind: kind, Message: message})
}

// Newf создает ошибку с форматированным сообщением
func Newf(kind Kind, format string, args ...any) error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap оборачивает причину в ошибку заданного класса
func Wrap(cause error, kind Kind, message string) error {
	if cause == nil {
		return nil
	}
	return errors.WithStack(&Error{Kind: kind, Message: message, cause: cause})
}

// KindOf возвращает класс первой ошибки приложения в цепочке
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Unknown
}

// Is сообщает, относится ли ошибка к заданному классу
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MessageOf возвращает сообщение, безопасное для отдачи клиенту
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// Shorthands used across services.

func Forbiddenf(format string, args ...any) error {
	return Newf(Forbidden, format, args...)
}

func NotFoundf(format string, args ...any) error {
	return Newf(NotFound, format, args...)
}

func Conflictf(format string, args ...any) error {
	return Newf(Conflict, format, args...)
}

func Invalidf(format string, args ...any) error {
	return Newf(ValidationFailed, format, args...)
}
