package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	RelayErrorBadInput            = "RELAY_BAD_INPUT"
	RelayErrorBindingNotFound     = "RELAY_BINDING_NOT_FOUND"
	RelayErrorStorageFailure      = "RELAY_STORAGE_FAILURE"
	RelayErrorDeliveryFailed      = "RELAY_DELIVERY_FAILED"
	RelayErrorEndpointUnreachable = "RELAY_ENDPOINT_UNREACHABLE"
	RelayErrorSnapshotParse       = "RELAY_SNAPSHOT_PARSE"
	RelayErrorSnapshotTransport   = "RELAY_SNAPSHOT_TRANSPORT"
	RelayErrorSnapshotBusy        = "RELAY_SNAPSHOT_BUSY"
	RelayErrorInternal            = "RELAY_INTERNAL_ERROR"
)

var (
	ErrBindingNotFound = errors.New("core: binding not found")
	ErrSnapshotBusy    = errors.New("core: snapshot operation already running")
)

// StorageError wraps a registry I/O failure. Storage errors propagate to the
// caller.
func StorageError(err error, operation string) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode == RelayErrorStorageFailure {
		return rich
	}
	return ensureRelayErrorEnvelope(
		goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("registry %s failed", strings.TrimSpace(operation))).
			WithTextCode(RelayErrorStorageFailure).
			WithMetadata(map[string]any{"operation": operation}),
	)
}

// DeliveryError describes a failed webhook attempt. It is logged and folded
// into binding health, never returned to the event source.
func DeliveryError(channelID string, classification Classification) *goerrors.Error {
	return ensureRelayErrorEnvelope(
		goerrors.New(classification.ErrorText, goerrors.CategoryExternal).
			WithTextCode(RelayErrorDeliveryFailed).
			WithMetadata(map[string]any{
				"channel_id":          channelID,
				"failure_kind":        string(classification.Kind),
				"status_code":         classification.StatusCode,
				"counts_toward_limit": classification.CountsTowardLimit,
			}),
	)
}

// EndpointUnreachableError rejects a bind whose validation POST failed.
func EndpointUnreachableError(endpointURL string, reason string) *goerrors.Error {
	return ensureRelayErrorEnvelope(
		goerrors.New(fmt.Sprintf("webhook endpoint validation failed: %s", reason), goerrors.CategoryBadInput).
			WithTextCode(RelayErrorEndpointUnreachable).
			WithMetadata(map[string]any{"endpoint_url": endpointURL}),
	)
}

func SnapshotParseError(table string, row int, reason string) *goerrors.Error {
	return ensureRelayErrorEnvelope(
		goerrors.New(fmt.Sprintf("snapshot %s row %d: %s", table, row, reason), goerrors.CategoryBadInput).
			WithTextCode(RelayErrorSnapshotParse).
			WithMetadata(map[string]any{"table": table, "row": row}),
	)
}

// SnapshotTransportError reports a failed snapshot read or publish. Local
// registry data is untouched when it is returned.
func SnapshotTransportError(err error, location string) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode == RelayErrorSnapshotTransport {
		return rich
	}
	return ensureRelayErrorEnvelope(
		goerrors.Wrap(err, goerrors.CategoryExternal, fmt.Sprintf("snapshot transport failed for %s", location)).
			WithTextCode(RelayErrorSnapshotTransport).
			WithMetadata(map[string]any{"location": location}),
	)
}

func NotFoundError(channelID string) *goerrors.Error {
	return ensureRelayErrorEnvelope(
		goerrors.Wrap(ErrBindingNotFound, goerrors.CategoryNotFound, fmt.Sprintf("no webhook bound to channel %s", channelID)).
			WithTextCode(RelayErrorBindingNotFound).
			WithMetadata(map[string]any{"channel_id": channelID}),
	)
}

func IsStorageError(err error) bool {
	return hasTextCode(err, RelayErrorStorageFailure)
}

func IsNotFound(err error) bool {
	if errors.Is(err, ErrBindingNotFound) {
		return true
	}
	return hasTextCode(err, RelayErrorBindingNotFound)
}

func IsSnapshotTransportError(err error) bool {
	return hasTextCode(err, RelayErrorSnapshotTransport)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == code
	}
	return false
}

func relayErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureRelayErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrBindingNotFound):
		return newRelayError(err.Error(), goerrors.CategoryNotFound, RelayErrorBindingNotFound)
	case errors.Is(err, ErrSnapshotBusy):
		return newRelayError(err.Error(), goerrors.CategoryConflict, RelayErrorSnapshotBusy)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "must "):
		return newRelayError(err.Error(), goerrors.CategoryBadInput, RelayErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureRelayErrorEnvelope(mapped)
}

func newRelayError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureRelayErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureRelayErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = relayHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultRelayTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultRelayTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return RelayErrorBadInput
	case goerrors.CategoryNotFound:
		return RelayErrorBindingNotFound
	case goerrors.CategoryConflict:
		return RelayErrorSnapshotBusy
	case goerrors.CategoryExternal:
		return RelayErrorDeliveryFailed
	default:
		return RelayErrorInternal
	}
}

func relayHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
