package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const DefaultUserAgent = "ipsafe/1.0.2"

// HTTPChecker is the single-attempt connectivity probe. Redirects are
// followed manually so the hop count stays bounded by Target.MaxRedirects.
type HTTPChecker struct {
	Client *http.Client
	Logger *zap.Logger
}

func NewHTTPChecker(logger *zap.Logger) *HTTPChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPChecker{
		Client: newClient(),
		Logger: logger,
	}
}

// newClient builds a client without connection reuse or proxy support.
func newClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:             nil,
			DisableKeepAlives: true,
			DialContext:       (&net.Dialer{}).DialContext,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (h *HTTPChecker) Check(ctx context.Context, t Target) error {
	return h.check(ctx, t, 0)
}

func (h *HTTPChecker) check(ctx context.Context, t Target, hops int) error {
	u, err := parseTargetURL(t.URL)
	if err != nil {
		return err
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}

	var matcher *contentMatcher
	if t.needsBody() {
		if matcher, err = newContentMatcher(t); err != nil {
			return err
		}
	}

	rctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	method := strings.ToUpper(strings.TrimSpace(t.Method))
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(rctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	applyHeaders(req, t)

	resp, err := h.client().Do(req)
	if err != nil {
		return classify(rctx, t, err)
	}
	defer resp.Body.Close()

	h.log().Debug("probe_response",
		zap.String("url", u.String()),
		zap.Int("status", resp.StatusCode),
		zap.Int("hop", hops),
	)

	if t.FollowRedirects && isRedirect(resp.StatusCode) {
		if loc := resp.Header.Get("Location"); loc != "" {
			if hops >= t.MaxRedirects {
				return fmt.Errorf("%w: stopped after %d redirects at %s", ErrRedirectLimit, hops, u.Redacted())
			}
			next, err := u.Parse(loc)
			if err != nil {
				return fmt.Errorf("%w: bad redirect location %q: %v", ErrTransport, loc, err)
			}
			resp.Body.Close()
			cancel()

			derived := t
			derived.URL = next.String()
			return h.check(ctx, derived, hops+1)
		}
	}

	if !statusAccepted(resp.StatusCode, t.FollowRedirects) {
		return &StatusError{Code: resp.StatusCode, Message: statusMessage(resp)}
	}
	if matcher == nil {
		return nil
	}

	body, err := readBody(resp)
	if err != nil {
		if errors.Is(err, ErrMalformedBody) {
			return err
		}
		return classify(rctx, t, err)
	}
	return matcher.match(body)
}

func (h *HTTPChecker) client() *http.Client {
	if h.Client == nil {
		h.Client = newClient()
	}
	return h.Client
}

func (h *HTTPChecker) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func parseTargetURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: test url is empty", ErrInvalidConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q in %s", ErrInvalidConfig, u.Scheme, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %s", ErrInvalidConfig, raw)
	}
	return u, nil
}

// applyHeaders sets the default header set, then user headers key for key.
func applyHeaders(req *http.Request, t Target) {
	ua := t.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Connection", "close")
	req.Close = true

	for k, v := range t.Headers {
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func statusAccepted(code int, followRedirects bool) bool {
	if followRedirects {
		return code >= 200 && code < 400
	}
	return code >= 200 && code < 300
}

func statusMessage(resp *http.Response) string {
	msg := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return msg
}

// classify maps a request or body-read error to the probe taxonomy.
func classify(rctx context.Context, t Target, err error) error {
	if errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %dms", ErrTimeout, t.Timeout.Milliseconds())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w after %dms", ErrTimeout, t.Timeout.Milliseconds())
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
