package types

import (
	"errors"
	"fmt"
)

// Kind classifies failures so transport layers can map them to status
// semantics without matching on message text.
type Kind string

const (
	KindPermission   Kind = "permission"
	KindQuota        Kind = "quota_exceeded"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindUpstream     Kind = "upstream"
	KindEmptyDiff    Kind = "empty_diff"
	KindLLMExhausted Kind = "llm_exhausted"
	KindInternal     Kind = "internal"
)

// Error is a tagged application error. Quota details are populated only
// for KindQuota.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Quota payload, for KindQuota
	CurrentUsage int
	Limit        int
	Tier         string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E constructs a tagged error with a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind and context message.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// QuotaError builds a KindQuota error carrying the machine-readable
// usage payload the API layer returns with 402 responses.
func QuotaError(used, limit int, tier string) *Error {
	return &Error{
		Kind: KindQuota,
		Message: fmt.Sprintf("AI review quota exceeded: you've used %d/%d AI reviews this month. "+
			"Upgrade to Plus or Pro to continue.", used, limit),
		CurrentUsage: used,
		Limit:        limit,
		Tier:         tier,
	}
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
