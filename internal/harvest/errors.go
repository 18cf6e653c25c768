package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a harvesting failure. The runner is the only place kinds
// are narrowed into run statuses; everything else just wraps and rethrows.
type Kind string

const (
	KindUnknownSource     Kind = "unknown_source"
	KindConfigError       Kind = "config_error"
	KindUpstreamTransient Kind = "upstream_transient"
	KindUpstreamPermanent Kind = "upstream_permanent"
	KindQuotaExhausted    Kind = "quota_exhausted"
	KindCircuitOpen       Kind = "circuit_open"
	KindTimeout           Kind = "timeout"
	KindStorageError      Kind = "storage_error"
	KindClassifierError   Kind = "classifier_error"
	KindParseError        Kind = "parse_error"
)

var (
	// ErrUnknownSource is returned when no adapter is registered under the
	// requested name.
	ErrUnknownSource = errors.New("unknown source")
	// ErrCircuitOpen is returned when the breaker refuses a call.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrAllKeysExhausted is returned when every configured API key has hit
	// its quota for the current window.
	ErrAllKeysExhausted = errors.New("all api keys exhausted")
	// ErrNoKeysConfigured is returned when a keyed harvester runs without
	// any credentials configured.
	ErrNoKeysConfigured = errors.New("no api keys configured")
)

// Error carries a failure kind alongside the source it occurred on and the
// underlying cause. It participates in errors.Is/As through Unwrap.
type Error struct {
	Kind   Kind
	Source string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Source != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Source != "":
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps cause with a kind and source name.
func NewError(kind Kind, source string, cause error) *Error {
	return &Error{Kind: kind, Source: source, Err: cause}
}

// KindOf classifies an arbitrary error. Wrapped *Error values report their
// own kind; context deadlines map to Timeout; network failures map to
// UpstreamTransient. Anything unrecognized is treated as permanent so
// programming mistakes are not retried forever.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindUpstreamTransient
	}
	return KindUpstreamPermanent
}

// Retriable reports whether a failure of the given kind should be retried by
// the runner's backoff loop. Only transient upstream trouble qualifies;
// parse failures count as permanent for breaker accounting.
func Retriable(kind Kind) bool {
	return kind == KindUpstreamTransient
}

// KindFromHTTPStatus maps an upstream response status to a failure kind.
// The body is consulted for quota markers on 403 responses.
func KindFromHTTPStatus(status int, body string) Kind {
	switch {
	case status >= 500:
		return KindUpstreamTransient
	case status == http.StatusForbidden && looksLikeQuotaDenial(body):
		return KindQuotaExhausted
	case status == http.StatusTooManyRequests:
		return KindQuotaExhausted
	case status >= 400:
		return KindUpstreamPermanent
	default:
		return ""
	}
}

func looksLikeQuotaDenial(body string) bool {
	lowered := strings.ToLower(body)
	return strings.Contains(lowered, "quotaexceeded") ||
		strings.Contains(lowered, "quota exceeded") ||
		strings.Contains(lowered, "dailylimitexceeded") ||
		strings.Contains(lowered, "ratelimitexceeded")
}
