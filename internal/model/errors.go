package model

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures. Every failure is scoped to one
// request and one source or step.
type Kind string

const (
	TranslationFailure Kind = "translation_failure"
	SourceUnavailable  Kind = "source_unavailable"
	RateLimitExceeded  Kind = "rate_limit_exceeded"
	SynthesisFailure   Kind = "synthesis_failure"
	ExtractionFailure  Kind = "extraction_failure"
	InvalidRequest     Kind = "invalid_request"
)

// Error is the structured error reported for a failed source or step.
type Error struct {
	Kind    Kind       `json:"kind"`
	Source  SourceKind `json:"source,omitempty"`
	Step    string     `json:"step,omitempty"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Source != "" {
		prefix += " (" + string(e.Source) + ")"
	} else if e.Step != "" {
		prefix += " (" + e.Step + ")"
	}
	if e.Err == nil && e.Message == "" {
		return prefix
	}
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return prefix + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or "" when
// err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError converts err into an *Error, classifying unknown errors with
// the fallback kind.
func AsError(err error, fallback Kind, source SourceKind, step string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Source == "" && source != "" {
			cp := *e
			cp.Source = source
			return &cp
		}
		return e
	}
	return &Error{Kind: fallback, Source: source, Step: step, Err: err}
}

// IsRetryable reports whether a caller may retry the whole request later.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case RateLimitExceeded, SourceUnavailable:
		return true
	}
	return false
}
