package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

func target(url string) Target {
	return Target{
		URL:             url,
		Method:          http.MethodGet,
		Timeout:         2 * time.Second,
		FollowRedirects: true,
		MaxRedirects:    5,
		SearchType:      SearchContains,
		ResponseType:    ResponseAuto,
	}
}

func withSearch(t Target, text string, typ SearchType) Target {
	t.CheckContent = true
	t.SearchText = text
	t.SearchType = typ
	return t
}

func TestHTTPChecker_StatusOK(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer s.Close()

	if err := NewHTTPChecker(nil).Check(context.Background(), target(s.URL)); err != nil {
		t.Fatalf("want success, got %v", err)
	}
}

func TestHTTPChecker_Status500(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", 500)
	}))
	defer s.Close()

	err := NewHTTPChecker(nil).Check(context.Background(), target(s.URL))
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("want *StatusError, got %v", err)
	}
	if se.Code != 500 || !errors.Is(err, ErrHTTPStatus) {
		t.Fatalf("unexpected status error: %+v", se)
	}
	if err.Error() != "HTTP 500: Internal Server Error" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestHTTPChecker_Timeout(t *testing.T) {
	// Server sleeps longer than the probe timeout
	release := make(chan struct{})
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(200)
	}))
	defer s.Close()
	defer close(release)

	tg := target(s.URL)
	tg.Timeout = 50 * time.Millisecond
	start := time.Now()
	err := NewHTTPChecker(nil).Check(context.Background(), tg)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "50ms") {
		t.Fatalf("want timeout in message, got %q", err.Error())
	}
	if time.Since(start) > time.Second {
		t.Fatalf("request was not aborted at the deadline")
	}
}

func TestHTTPChecker_TransportError(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := s.URL
	s.Close()

	err := NewHTTPChecker(nil).Check(context.Background(), target(url))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}
}

func TestHTTPChecker_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "https://", "://nope"} {
		err := NewHTTPChecker(nil).Check(context.Background(), target(raw))
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("url %q: want ErrInvalidConfig, got %v", raw, err)
		}
	}
}

func TestHTTPChecker_HeadersAndMethod(t *testing.T) {
	var got http.Header
	var method string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		method = r.Method
	}))
	defer s.Close()

	tg := target(s.URL)
	tg.Method = "head"
	tg.UserAgent = "custom-agent/2"
	tg.Headers = map[string]string{"accept": "application/json", "X-Token": "abc"}
	if err := NewHTTPChecker(nil).Check(context.Background(), tg); err != nil {
		t.Fatalf("check: %v", err)
	}
	if method != http.MethodHead {
		t.Fatalf("want HEAD, got %s", method)
	}
	if got.Get("User-Agent") != "custom-agent/2" {
		t.Fatalf("user agent not applied: %q", got.Get("User-Agent"))
	}
	if got.Get("Accept") != "application/json" {
		t.Fatalf("user header must override default Accept, got %q", got.Get("Accept"))
	}
	if got.Get("X-Token") != "abc" {
		t.Fatalf("custom header missing")
	}
	if got.Get("Accept-Encoding") != "gzip, deflate" {
		t.Fatalf("default Accept-Encoding missing: %q", got.Get("Accept-Encoding"))
	}
}

func TestHTTPChecker_DefaultUserAgent(t *testing.T) {
	var ua string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.UserAgent()
	}))
	defer s.Close()

	if err := NewHTTPChecker(nil).Check(context.Background(), target(s.URL)); err != nil {
		t.Fatalf("check: %v", err)
	}
	if ua != DefaultUserAgent {
		t.Fatalf("want %q, got %q", DefaultUserAgent, ua)
	}
}

// redirectChain serves /r/N which redirects N more times before answering 200.
func redirectChain(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		n, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/r/"))
		if n <= 0 {
			w.Write([]byte("arrived"))
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/r/%d", n-1), http.StatusFound)
	}))
	t.Cleanup(s.Close)
	return s, &hits
}

func TestHTTPChecker_RedirectsUpToLimit(t *testing.T) {
	s, hits := redirectChain(t)

	tg := target(s.URL + "/r/3")
	tg.MaxRedirects = 3
	if err := NewHTTPChecker(nil).Check(context.Background(), tg); err != nil {
		t.Fatalf("want success after exactly max redirects, got %v", err)
	}
	if n := atomic.LoadInt32(hits); n != 4 {
		t.Fatalf("want 4 requests, got %d", n)
	}
}

func TestHTTPChecker_RedirectLimitExceeded(t *testing.T) {
	s, _ := redirectChain(t)

	tg := target(s.URL + "/r/4")
	tg.MaxRedirects = 3
	err := NewHTTPChecker(nil).Check(context.Background(), tg)
	if !errors.Is(err, ErrRedirectLimit) {
		t.Fatalf("want ErrRedirectLimit, got %v", err)
	}
}

func TestHTTPChecker_RedirectCycleTerminates(t *testing.T) {
	var hits int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path == "/a" {
			http.Redirect(w, r, "/b", http.StatusMovedPermanently)
			return
		}
		http.Redirect(w, r, "/a", http.StatusTemporaryRedirect)
	}))
	defer s.Close()

	tg := target(s.URL + "/a")
	tg.MaxRedirects = 5
	err := NewHTTPChecker(nil).Check(context.Background(), tg)
	if !errors.Is(err, ErrRedirectLimit) {
		t.Fatalf("want ErrRedirectLimit, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 6 {
		t.Fatalf("want 6 requests for max 5 redirects, got %d", n)
	}
}

func TestHTTPChecker_RedirectDoesNotMutateTarget(t *testing.T) {
	s, _ := redirectChain(t)

	tg := target(s.URL + "/r/2")
	orig := tg.URL
	if err := NewHTTPChecker(nil).Check(context.Background(), tg); err != nil {
		t.Fatalf("check: %v", err)
	}
	if tg.URL != orig {
		t.Fatalf("target mutated: %s", tg.URL)
	}
}

func TestHTTPChecker_RedirectsDisabled(t *testing.T) {
	s, _ := redirectChain(t)

	tg := target(s.URL + "/r/1")
	tg.FollowRedirects = false
	err := NewHTTPChecker(nil).Check(context.Background(), tg)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusFound {
		t.Fatalf("want 302 status error, got %v", err)
	}
}

func TestHTTPChecker_RedirectWithoutLocationAccepted(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer s.Close()

	if err := NewHTTPChecker(nil).Check(context.Background(), target(s.URL)); err != nil {
		t.Fatalf("3xx without Location should pass with redirects enabled, got %v", err)
	}
}

func TestHTTPChecker_ContainsIsCaseInsensitive(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Hello World"))
	}))
	defer s.Close()

	tg := withSearch(target(s.URL), "hello", SearchContains)
	if err := NewHTTPChecker(nil).Check(context.Background(), tg); err != nil {
		t.Fatalf("want match, got %v", err)
	}
}

func TestHTTPChecker_ContentMismatch(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("captive portal login"))
	}))
	defer s.Close()

	tg := withSearch(target(s.URL), "corp-intranet", SearchContains)
	err := NewHTTPChecker(nil).Check(context.Background(), tg)
	if !errors.Is(err, ErrContentMismatch) {
		t.Fatalf("want ErrContentMismatch, got %v", err)
	}
}

func TestHTTPChecker_SkipsBodyWithoutSearchText(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write([]byte("definitely not gzip"))
	}))
	defer s.Close()

	tg := target(s.URL)
	tg.CheckContent = true
	if err := NewHTTPChecker(nil).Check(context.Background(), tg); err != nil {
		t.Fatalf("body must not be decoded without search text, got %v", err)
	}
}

func TestHTTPChecker_RegexMatch(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<title>Office Network v2</title>"))
	}))
	defer s.Close()

	tg := withSearch(target(s.URL), `office\s+NETWORK v\d`, SearchRegex)
	if err := NewHTTPChecker(nil).Check(context.Background(), tg); err != nil {
		t.Fatalf("want regex match, got %v", err)
	}
}

func TestHTTPChecker_InvalidPatternNeverMismatch(t *testing.T) {
	var hits int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("anything"))
	}))
	defer s.Close()

	tg := withSearch(target(s.URL), "(unbalanced", SearchRegex)
	err := NewHTTPChecker(nil).Check(context.Background(), tg)
	if !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("want ErrInvalidPattern, got %v", err)
	}
	if errors.Is(err, ErrContentMismatch) {
		t.Fatalf("invalid pattern must not be reported as mismatch")
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("invalid pattern should fail before the request, got %d hits", n)
	}
}

func TestHTTPChecker_RegexAgainstCanonicalJSON(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{\n  \"status\" :   \"ok\",\n  \"a\": 1\n}"))
	}))
	defer s.Close()

	tg := withSearch(target(s.URL), `^\{"a":1,"status":"ok"\}$`, SearchRegex)
	if err := NewHTTPChecker(nil).Check(context.Background(), tg); err != nil {
		t.Fatalf("want match on canonical json, got %v", err)
	}
}

func TestHTTPChecker_ResponseTypeJSONRejectsHTML(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>ok</html>"))
	}))
	defer s.Close()

	tg := withSearch(target(s.URL), "ok", SearchRegex)
	tg.ResponseType = ResponseJSON
	err := NewHTTPChecker(nil).Check(context.Background(), tg)
	if !errors.Is(err, ErrMalformedBody) {
		t.Fatalf("want ErrMalformedBody, got %v", err)
	}
}

func TestHTTPChecker_GzipBodyDecoded(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("status: ok"))
	zw.Close()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer s.Close()

	tg := withSearch(target(s.URL), "status: ok", SearchContains)
	if err := NewHTTPChecker(nil).Check(context.Background(), tg); err != nil {
		t.Fatalf("want gzip body matched, got %v", err)
	}
}

func TestHTTPChecker_DeflateBodyDecoded(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write([]byte("network ready"))
	zw.Close()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "deflate")
		w.Write(buf.Bytes())
	}))
	defer s.Close()

	tg := withSearch(target(s.URL), "READY", SearchContains)
	if err := NewHTTPChecker(nil).Check(context.Background(), tg); err != nil {
		t.Fatalf("want deflate body matched, got %v", err)
	}
}

func TestHTTPChecker_CorruptGzip(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write([]byte("not gzip at all"))
	}))
	defer s.Close()

	tg := withSearch(target(s.URL), "ok", SearchContains)
	err := NewHTTPChecker(nil).Check(context.Background(), tg)
	if !errors.Is(err, ErrMalformedBody) {
		t.Fatalf("want ErrMalformedBody, got %v", err)
	}
}

func TestKind(t *testing.T) {
	if Kind(nil) != nil || IsFailure(errors.New("x")) {
		t.Fatalf("unrelated errors are not probe failures")
	}
	err := fmt.Errorf("wrapped: %w", &StatusError{Code: 404, Message: "Not Found"})
	if Kind(err) != ErrHTTPStatus {
		t.Fatalf("want ErrHTTPStatus, got %v", Kind(err))
	}
}
