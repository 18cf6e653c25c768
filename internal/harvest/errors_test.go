package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestKindOfWrappedError(t *testing.T) {
	inner := NewError(KindQuotaExhausted, "tube-news", errors.New("403 quotaExceeded"))
	wrapped := fmt.Errorf("page 3: %w", inner)
	if got := KindOf(wrapped); got != KindQuotaExhausted {
		t.Fatalf("kind = %q, want %q", got, KindQuotaExhausted)
	}
}

func TestKindOfContextDeadline(t *testing.T) {
	if got := KindOf(context.DeadlineExceeded); got != KindTimeout {
		t.Fatalf("kind = %q, want %q", got, KindTimeout)
	}
}

func TestKindOfNetError(t *testing.T) {
	var err error = &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	if got := KindOf(err); got != KindUpstreamTransient {
		t.Fatalf("kind = %q, want %q", got, KindUpstreamTransient)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestKindOfNetTimeout(t *testing.T) {
	var err error = &net.OpError{Op: "read", Err: timeoutError{}}
	if got := KindOf(err); got != KindTimeout {
		t.Fatalf("kind = %q, want %q", got, KindTimeout)
	}
}

func TestKindOfUnrecognized(t *testing.T) {
	if got := KindOf(errors.New("surprise")); got != KindUpstreamPermanent {
		t.Fatalf("kind = %q, want %q", got, KindUpstreamPermanent)
	}
}

func TestErrorMessageIncludesSourceAndKind(t *testing.T) {
	err := NewError(KindParseError, "metro-times", errors.New("truncated payload"))
	want := "metro-times: parse_error: truncated payload"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}

func TestErrorUnwrapReachesSentinel(t *testing.T) {
	err := NewError(KindUnknownSource, "ghost", ErrUnknownSource)
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected errors.Is to reach ErrUnknownSource")
	}
}

func TestRetriable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindUpstreamTransient, true},
		{KindUpstreamPermanent, false},
		{KindParseError, false},
		{KindQuotaExhausted, false},
		{KindTimeout, false},
		{KindCircuitOpen, false},
	}
	for _, tc := range cases {
		if got := Retriable(tc.kind); got != tc.want {
			t.Fatalf("Retriable(%q) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestKindFromHTTPStatus(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{name: "server error", status: 503, want: KindUpstreamTransient},
		{name: "quota forbidden", status: 403, body: `{"error":{"errors":[{"reason":"quotaExceeded"}]}}`, want: KindQuotaExhausted},
		{name: "plain forbidden", status: 403, body: "forbidden", want: KindUpstreamPermanent},
		{name: "too many requests", status: 429, want: KindQuotaExhausted},
		{name: "not found", status: 404, want: KindUpstreamPermanent},
		{name: "ok", status: 200, want: Kind("")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindFromHTTPStatus(tc.status, tc.body); got != tc.want {
				t.Fatalf("kind = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestKindOfNil(t *testing.T) {
	if got := KindOf(nil); got != "" {
		t.Fatalf("kind = %q, want empty", got)
	}
}

var _ net.Error = timeoutError{}

func TestKindOfCancelledContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	if got := KindOf(ctx.Err()); got != KindTimeout {
		t.Fatalf("kind = %q, want %q", got, KindTimeout)
	}
}
