package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved probe/exec configuration for one invocation.
// Durations are milliseconds, matching the JSON file format.
type Config struct {
	TestURL         string            `json:"testUrl"`
	Timeout         int               `json:"timeout"`
	Retries         int               `json:"retries"`
	Method          string            `json:"method"`
	UserAgent       string            `json:"userAgent"`
	CheckContent    bool              `json:"checkContent"`
	SearchText      string            `json:"searchText"`
	SearchType      string            `json:"searchType"`
	Headers         map[string]string `json:"headers"`
	FollowRedirects bool              `json:"followRedirects"`
	MaxRedirects    int               `json:"maxRedirects"`
	ResponseType    string            `json:"responseType"`
	CommandTimeout  int               `json:"commandTimeout"`
	AggregateErrors bool              `json:"aggregateErrors"`
}

// Overlay is a partially specified Config as read from one file. Nil fields
// leave the underlying value untouched.
type Overlay struct {
	TestURL         *string           `mapstructure:"testUrl"`
	Timeout         *int              `mapstructure:"timeout"`
	Retries         *int              `mapstructure:"retries"`
	Method          *string           `mapstructure:"method"`
	UserAgent       *string           `mapstructure:"userAgent"`
	CheckContent    *bool             `mapstructure:"checkContent"`
	SearchText      *string           `mapstructure:"searchText"`
	SearchType      *string           `mapstructure:"searchType"`
	Headers         map[string]string `mapstructure:"headers"`
	FollowRedirects *bool             `mapstructure:"followRedirects"`
	MaxRedirects    *int              `mapstructure:"maxRedirects"`
	ResponseType    *string           `mapstructure:"responseType"`
	CommandTimeout  *int              `mapstructure:"commandTimeout"`
	AggregateErrors *bool             `mapstructure:"aggregateErrors"`
}

func Defaults() Config {
	return Config{
		TestURL:         "https://www.google.com",
		Timeout:         3000,
		Retries:         1,
		Method:          "GET",
		UserAgent:       "ipsafe/1.0.2",
		SearchType:      "contains",
		Headers:         map[string]string{},
		FollowRedirects: true,
		MaxRedirects:    5,
		ResponseType:    "auto",
	}
}

// Apply returns a copy of c with every field set in o replaced.
func (c Config) Apply(o Overlay) Config {
	out := c.Clone()
	set(&out.TestURL, o.TestURL)
	set(&out.Timeout, o.Timeout)
	set(&out.Retries, o.Retries)
	set(&out.Method, o.Method)
	set(&out.UserAgent, o.UserAgent)
	set(&out.CheckContent, o.CheckContent)
	set(&out.SearchText, o.SearchText)
	set(&out.SearchType, o.SearchType)
	set(&out.FollowRedirects, o.FollowRedirects)
	set(&out.MaxRedirects, o.MaxRedirects)
	set(&out.ResponseType, o.ResponseType)
	set(&out.CommandTimeout, o.CommandTimeout)
	set(&out.AggregateErrors, o.AggregateErrors)
	if o.Headers != nil {
		out.Headers = maps.Clone(o.Headers)
	}
	return out
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Clone returns a deep copy so callers can't share the header map.
func (c Config) Clone() Config {
	out := c
	out.Headers = maps.Clone(c.Headers)
	if out.Headers == nil {
		out.Headers = map[string]string{}
	}
	return out
}

func (c Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

func (c Config) CommandTimeoutDuration() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Millisecond
}

// Validate reports every violated constraint at once.
func (c Config) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if strings.TrimSpace(c.TestURL) == "" {
		add("testUrl is required")
	} else if u, err := url.Parse(c.TestURL); err != nil {
		add("testUrl: %v", err)
	} else if s := strings.ToLower(u.Scheme); (s != "http" && s != "https") || u.Host == "" {
		add("testUrl must be an absolute http(s) URL, got %q", c.TestURL)
	}
	if c.Timeout <= 0 {
		add("timeout must be > 0, got %d", c.Timeout)
	}
	if c.Retries < 0 {
		add("retries must be >= 0, got %d", c.Retries)
	}
	switch c.SearchType {
	case "", "contains", "regex":
	default:
		add("searchType must be contains or regex, got %q", c.SearchType)
	}
	switch c.ResponseType {
	case "", "auto", "html", "json":
	default:
		add("responseType must be auto, html or json, got %q", c.ResponseType)
	}
	if c.MaxRedirects < 0 {
		add("maxRedirects must be >= 0, got %d", c.MaxRedirects)
	}
	if c.CommandTimeout < 0 {
		add("commandTimeout must be >= 0, got %d", c.CommandTimeout)
	}
	return errs
}
