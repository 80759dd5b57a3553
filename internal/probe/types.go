package probe

import (
	"context"
	"time"
)

// SearchType selects how SearchText is matched against a response body.
type SearchType string

const (
	SearchContains SearchType = "contains"
	SearchRegex    SearchType = "regex"
)

// ResponseType tells the matcher how to interpret the body before a regex test.
type ResponseType string

const (
	ResponseAuto ResponseType = "auto"
	ResponseHTML ResponseType = "html"
	ResponseJSON ResponseType = "json"
)

// Target is a single probe description. It is passed by value; redirect
// handling works on derived copies and never mutates the caller's Target.
type Target struct {
	URL       string
	Method    string
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string

	CheckContent bool
	SearchText   string
	SearchType   SearchType
	ResponseType ResponseType

	FollowRedirects bool
	MaxRedirects    int
}

// needsBody reports whether the response body has to be read at all.
func (t Target) needsBody() bool {
	return t.CheckContent && t.SearchText != ""
}

// Checker performs one logical connectivity check. A nil error means success.
type Checker interface {
	Check(ctx context.Context, t Target) error
}

// CheckerFunc adapts a plain function to Checker.
type CheckerFunc func(ctx context.Context, t Target) error

func (f CheckerFunc) Check(ctx context.Context, t Target) error { return f(ctx, t) }
