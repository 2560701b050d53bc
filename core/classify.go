package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"
)

type FailureKind string

const (
	// FailureKindNetwork covers DNS resolution failures and unreachable
	// networks or hosts.
	FailureKindNetwork FailureKind = "network"
	// FailureKindTimeout covers connect, TLS handshake and read deadlines.
	FailureKindTimeout FailureKind = "timeout"
	// FailureKindConnection covers hosts that answered but refused, reset
	// or failed the connection handshake.
	FailureKindConnection FailureKind = "connection"
	FailureKindHTTPStatus FailureKind = "http_status"
	FailureKindMalformed  FailureKind = "malformed"
)

const maxErrorDetailLength = 256

// DeliveryOutcome is the typed result of one HTTP delivery attempt.
type DeliveryOutcome struct {
	StatusCode int
	Failure    FailureKind
	Detail     string
	Duration   time.Duration
}

func (o DeliveryOutcome) Succeeded() bool {
	return o.Failure == "" && o.StatusCode >= 200 && o.StatusCode < 300
}

type Classification struct {
	Kind              FailureKind
	StatusCode        int
	CountsTowardLimit bool
	ErrorText         string
}

// Classify maps a failed outcome to its health effect. The boolean result is
// false for successful outcomes.
func Classify(outcome DeliveryOutcome) (Classification, bool) {
	if outcome.Succeeded() {
		return Classification{}, false
	}
	kind := outcome.Failure
	if kind == "" {
		kind = FailureKindHTTPStatus
	}
	detail := truncateDetail(outcome.Detail)

	out := Classification{Kind: kind, StatusCode: outcome.StatusCode}
	switch kind {
	case FailureKindNetwork:
		out.ErrorText = "Network error: " + defaultString(detail, "unreachable")
	case FailureKindTimeout:
		out.ErrorText = "Timeout: " + defaultString(detail, "deadline exceeded")
	case FailureKindConnection:
		out.CountsTowardLimit = true
		out.ErrorText = "Connection error: " + defaultString(detail, "connection failed")
	case FailureKindHTTPStatus:
		out.CountsTowardLimit = StatusCountsTowardLimit(outcome.StatusCode)
		out.ErrorText = fmt.Sprintf(
			"HTTP %d: %s",
			outcome.StatusCode,
			defaultString(detail, http.StatusText(outcome.StatusCode)),
		)
	default:
		out.Kind = FailureKindMalformed
		out.CountsTowardLimit = true
		out.ErrorText = "Malformed response: " + defaultString(detail, "unexpected response")
	}
	return out, true
}

// StatusCountsTowardLimit reports whether a non-2xx status is a strike.
// 408 and every 5xx are treated as transient.
func StatusCountsTowardLimit(status int) bool {
	if status == http.StatusRequestTimeout {
		return false
	}
	if status >= 500 && status <= 599 {
		return false
	}
	return true
}

// ClassifyTransportError maps an error returned by an HTTP client call to a
// failure kind using typed error values.
func ClassifyTransportError(err error) FailureKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureKindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return FailureKindTimeout
		}
		return FailureKindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureKindTimeout
	}
	switch {
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return FailureKindNetwork
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return FailureKindConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureKindConnection
	}
	return FailureKindMalformed
}

func truncateDetail(detail string) string {
	detail = strings.TrimSpace(detail)
	if len(detail) <= maxErrorDetailLength {
		return detail
	}
	cut := maxErrorDetailLength
	for cut > 0 && !utf8.RuneStart(detail[cut]) {
		cut--
	}
	return detail[:cut] + "..."
}
