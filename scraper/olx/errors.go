package olx

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FetchErrorKind classifies why a page could not be fetched.
type FetchErrorKind string

const (
	KindTimeout     FetchErrorKind = "timeout"
	KindUnreachable FetchErrorKind = "unreachable"
	KindBlocked     FetchErrorKind = "blocked"
)

// FetchError is returned by Fetch when a page could not be obtained. Page is
// the 1-based page number that failed; pages before it were delivered.
type FetchError struct {
	Kind   FetchErrorKind
	Page   int
	URL    string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch page %d: %s", e.Page, e.Kind)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// classifyRenderError maps a rendering failure onto a fetch error kind.
func classifyRenderError(err error) FetchErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "err_blocked"), strings.Contains(msg, "403"), strings.Contains(msg, "429"):
		return KindBlocked
	default:
		return KindUnreachable
	}
}
