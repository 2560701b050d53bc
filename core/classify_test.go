package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"unicode/utf8"
)

func TestClassify_FailureTable(t *testing.T) {
	cases := []struct {
		name    string
		outcome DeliveryOutcome
		kind    FailureKind
		counts  bool
		text    string
	}{
		{name: "dns", outcome: DeliveryOutcome{Failure: FailureKindNetwork, Detail: "no such host"}, kind: FailureKindNetwork, counts: false, text: "Network error: no such host"},
		{name: "timeout", outcome: DeliveryOutcome{Failure: FailureKindTimeout, Detail: "deadline"}, kind: FailureKindTimeout, counts: false, text: "Timeout: deadline"},
		{name: "refused", outcome: DeliveryOutcome{Failure: FailureKindConnection, Detail: "connection refused"}, kind: FailureKindConnection, counts: true, text: "Connection error: connection refused"},
		{name: "408", outcome: DeliveryOutcome{StatusCode: 408}, kind: FailureKindHTTPStatus, counts: false, text: "HTTP 408: Request Timeout"},
		{name: "500", outcome: DeliveryOutcome{StatusCode: 500, Detail: "boom"}, kind: FailureKindHTTPStatus, counts: false, text: "HTTP 500: boom"},
		{name: "503", outcome: DeliveryOutcome{StatusCode: 503}, kind: FailureKindHTTPStatus, counts: false, text: "HTTP 503: Service Unavailable"},
		{name: "599", outcome: DeliveryOutcome{StatusCode: 599}, kind: FailureKindHTTPStatus, counts: false},
		{name: "301", outcome: DeliveryOutcome{StatusCode: 301}, kind: FailureKindHTTPStatus, counts: true},
		{name: "403", outcome: DeliveryOutcome{StatusCode: 403}, kind: FailureKindHTTPStatus, counts: true},
		{name: "404", outcome: DeliveryOutcome{StatusCode: 404, Detail: "Unknown Webhook"}, kind: FailureKindHTTPStatus, counts: true, text: "HTTP 404: Unknown Webhook"},
		{name: "410", outcome: DeliveryOutcome{StatusCode: 410}, kind: FailureKindHTTPStatus, counts: true},
		{name: "429", outcome: DeliveryOutcome{StatusCode: 429}, kind: FailureKindHTTPStatus, counts: true},
		{name: "malformed", outcome: DeliveryOutcome{Failure: FailureKindMalformed, Detail: "body too large"}, kind: FailureKindMalformed, counts: true, text: "Malformed response: body too large"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, failed := Classify(tc.outcome)
			if !failed {
				t.Fatalf("expected failure classification")
			}
			if got.Kind != tc.kind {
				t.Fatalf("expected kind %q, got %q", tc.kind, got.Kind)
			}
			if got.CountsTowardLimit != tc.counts {
				t.Fatalf("expected counts=%v, got %v", tc.counts, got.CountsTowardLimit)
			}
			if tc.text != "" && got.ErrorText != tc.text {
				t.Fatalf("expected error text %q, got %q", tc.text, got.ErrorText)
			}
		})
	}
}

func TestClassify_SuccessIsNotAFailure(t *testing.T) {
	for _, status := range []int{200, 201, 204, 299} {
		if _, failed := Classify(DeliveryOutcome{StatusCode: status}); failed {
			t.Fatalf("expected %d to be a success", status)
		}
	}
}

func TestClassify_TruncatesLongDetail(t *testing.T) {
	got, _ := Classify(DeliveryOutcome{StatusCode: 400, Detail: strings.Repeat("x", 1000)})
	if len(got.ErrorText) > maxErrorDetailLength+32 {
		t.Fatalf("expected truncated error text, got %d chars", len(got.ErrorText))
	}
}

func TestTruncateDetail_KeepsRunesWhole(t *testing.T) {
	// "é" is two bytes, so byte 256 falls inside a rune after one ASCII byte.
	detail := "x" + strings.Repeat("é", 300)
	got := truncateDetail(detail)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated detail is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") || len(got) > maxErrorDetailLength+len("...") {
		t.Fatalf("unexpected truncation %q (%d bytes)", got, len(got))
	}

	reason, _ := Classify(DeliveryOutcome{StatusCode: 500, Detail: strings.Repeat("日本", 200)})
	if !utf8.ValidString(reason.ErrorText) {
		t.Fatalf("error text is not valid UTF-8: %q", reason.ErrorText)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyTransportError_TypedErrors(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	unreachable := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)}
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{name: "deadline", err: fmt.Errorf("post: %w", context.DeadlineExceeded), want: FailureKindTimeout},
		{name: "net timeout", err: &net.OpError{Op: "read", Err: timeoutError{}}, want: FailureKindTimeout},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}, want: FailureKindNetwork},
		{name: "dns timeout", err: &net.DNSError{Err: "timeout", Name: "slow.invalid", IsTimeout: true}, want: FailureKindTimeout},
		{name: "refused", err: refused, want: FailureKindConnection},
		{name: "host unreachable", err: unreachable, want: FailureKindNetwork},
		{name: "other", err: errors.New("unsupported protocol scheme"), want: FailureKindMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyTransportError(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
	if got := ClassifyTransportError(nil); got != "" {
		t.Fatalf("expected empty kind for nil error, got %q", got)
	}
}
