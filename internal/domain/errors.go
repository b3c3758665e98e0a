package domain

import (
	"errors"
	"fmt"
)

// Kind classifies lifecycle errors so callers can branch on them.
type Kind string

const (
	KindInvalidTransition      Kind = "invalid_transition"
	KindInvalidState           Kind = "invalid_state"
	KindMissingPhaseData       Kind = "missing_phase_data"
	KindOutOfOrder             Kind = "out_of_order"
	KindAlreadyDecided         Kind = "already_decided"
	KindConcurrentModification Kind = "concurrent_modification"
	KindNotFound               Kind = "not_found"
	KindValidationFailed       Kind = "validation_failed"
	KindForbidden              Kind = "forbidden"
)

// Error is a classified lifecycle error. Two errors match under errors.Is
// when their kinds are equal, so the sentinels below match any message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition}
	ErrInvalidState           = &Error{Kind: KindInvalidState}
	ErrMissingPhaseData       = &Error{Kind: KindMissingPhaseData}
	ErrOutOfOrder             = &Error{Kind: KindOutOfOrder}
	ErrAlreadyDecided         = &Error{Kind: KindAlreadyDecided}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrValidationFailed       = &Error{Kind: KindValidationFailed}
	ErrForbidden              = &Error{Kind: KindForbidden}
)

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NotFound builds a not_found error for an entity.
func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// Conflict builds the error returned when a conditioned write loses a race.
func Conflict(entity, id string) error {
	return &Error{
		Kind:    KindConcurrentModification,
		Message: fmt.Sprintf("%s %s was modified by another request; refresh and retry", entity, id),
	}
}
