package probe

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dlclark/regexp2"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// readBody reads the full body and undoes gzip or deflate content encoding.
func readBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch enc {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrMalformedBody, err)
		}
		defer zr.Close()
		return decode(zr, "gzip")
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			return decode(zr, "deflate")
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return decode(fr, "deflate")
	default:
		return raw, nil
	}
}

func decode(r io.Reader, enc string) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedBody, enc, err)
	}
	return out, nil
}

type contentMatcher struct {
	search       string
	searchType   SearchType
	responseType ResponseType
	re           *regexp2.Regexp
}

func newContentMatcher(t Target) (*contentMatcher, error) {
	m := &contentMatcher{
		search:       t.SearchText,
		searchType:   t.SearchType,
		responseType: t.ResponseType,
	}
	if m.searchType == "" {
		m.searchType = SearchContains
	}
	if m.responseType == "" {
		m.responseType = ResponseAuto
	}
	switch m.searchType {
	case SearchContains:
	case SearchRegex:
		re, err := regexp2.Compile(t.SearchText, regexp2.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		re.MatchTimeout = t.Timeout
		m.re = re
	default:
		return nil, fmt.Errorf("%w: unknown search type %q", ErrInvalidConfig, t.SearchType)
	}
	return m, nil
}

func (m *contentMatcher) match(body []byte) error {
	var found bool
	switch m.searchType {
	case SearchRegex:
		subject, err := m.subject(body)
		if err != nil {
			return err
		}
		found, err = m.re.MatchString(subject)
		if err != nil {
			return fmt.Errorf("%w: regex evaluation: %v", ErrTimeout, err)
		}
	default:
		found = strings.Contains(strings.ToLower(string(body)), strings.ToLower(m.search))
	}
	if !found {
		return fmt.Errorf("%w: %q not found", ErrContentMismatch, m.search)
	}
	return nil
}

// subject returns the text a regex runs against: canonical JSON when the
// body is JSON, the raw body otherwise.
func (m *contentMatcher) subject(body []byte) (string, error) {
	switch m.responseType {
	case ResponseHTML:
		return string(body), nil
	case ResponseJSON:
		canon, err := canonicalJSON(body)
		if err != nil {
			return "", fmt.Errorf("%w: expected json: %v", ErrMalformedBody, err)
		}
		return canon, nil
	default:
		if !json.Valid(body) {
			return string(body), nil
		}
		canon, err := canonicalJSON(body)
		if err != nil {
			return string(body), nil
		}
		return canon, nil
	}
}

// canonicalJSON re-serializes body with sorted object keys and no extra whitespace.
func canonicalJSON(body []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
