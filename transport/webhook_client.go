package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

const defaultWebhookTimeout = 10 * time.Second
const defaultResponseBodyLimit int64 = 1 << 20 // 1 MiB

const userAgent = "go-relay/1"

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookClient posts JSON payloads to bound endpoints. Each call is a single
// attempt; retries are never made.
type WebhookClient struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewWebhookClient(client HTTPDoer) *WebhookClient {
	if client == nil {
		client = &http.Client{}
	}
	return &WebhookClient{
		Client:               client,
		DefaultHeaders:       map[string]string{"User-Agent": userAgent},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

// Post sends payload as application/json and reports a typed outcome. The
// timeout bounds connect, request and response body read together.
func (c *WebhookClient) Post(
	ctx context.Context,
	endpointURL string,
	payload map[string]any,
	timeout time.Duration,
) core.DeliveryOutcome {
	startedAt := time.Now()
	outcome := c.post(ctx, endpointURL, payload, timeout)
	outcome.Duration = time.Since(startedAt)
	return outcome
}

func (c *WebhookClient) post(
	ctx context.Context,
	endpointURL string,
	payload map[string]any,
	timeout time.Duration,
) core.DeliveryOutcome {
	if c == nil || c.Client == nil {
		return core.DeliveryOutcome{Failure: core.FailureKindMalformed, Detail: "webhook client is not configured"}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	parsedURL, err := url.Parse(strings.TrimSpace(endpointURL))
	if err != nil || parsedURL.Host == "" {
		return core.DeliveryOutcome{Failure: core.FailureKindMalformed, Detail: "invalid endpoint url"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return core.DeliveryOutcome{Failure: core.FailureKindMalformed, Detail: fmt.Sprintf("encode payload: %v", err)}
	}

	requestCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, parsedURL.String(), bytes.NewReader(body))
	if err != nil {
		return core.DeliveryOutcome{Failure: core.FailureKindMalformed, Detail: fmt.Sprintf("create request: %v", err)}
	}
	for key, value := range c.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpRes, err := c.Client.Do(httpReq)
	if err != nil {
		return core.DeliveryOutcome{Failure: core.ClassifyTransportError(err), Detail: transportDetail(err)}
	}
	defer httpRes.Body.Close()

	maxBodyBytes := c.MaxResponseBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultResponseBodyLimit
	}
	responseBody, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		kind := core.ClassifyTransportError(err)
		if kind != core.FailureKindTimeout {
			kind = core.FailureKindMalformed
		}
		return core.DeliveryOutcome{
			StatusCode: httpRes.StatusCode,
			Failure:    kind,
			Detail:     fmt.Sprintf("read response body: %s", transportDetail(err)),
		}
	}
	if int64(len(responseBody)) > maxBodyBytes {
		return core.DeliveryOutcome{
			StatusCode: httpRes.StatusCode,
			Failure:    core.FailureKindMalformed,
			Detail:     fmt.Sprintf("response body exceeds limit of %d bytes", maxBodyBytes),
		}
	}

	outcome := core.DeliveryOutcome{StatusCode: httpRes.StatusCode}
	if httpRes.StatusCode < 200 || httpRes.StatusCode >= 300 {
		outcome.Detail = responseMessage(responseBody)
	}
	return outcome
}

// responseMessage prefers a JSON "message" or "error" field and falls back
// to the raw body text.
func responseMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	var decoded map[string]any
	if err := json.Unmarshal(trimmed, &decoded); err == nil {
		for _, key := range []string{"message", "error"} {
			if value, ok := decoded[key].(string); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}
	return strings.Join(strings.Fields(string(trimmed)), " ")
}

// transportDetail strips the url.Error wrapper so the detail names the
// underlying network failure.
func transportDetail(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return err.Error()
}

var _ core.WebhookPoster = (*WebhookClient)(nil)
