package inbound

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

// DefaultMaxBodyBytes bounds one event envelope.
const DefaultMaxBodyBytes int64 = 1 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	TextCode string `json:"text_code"`
	Message  string `json:"message"`
}

// Handler serves Receive over HTTP. Responses are JSON: the Result on
// success, an error envelope otherwise.
func (r *Receiver) Handler(maxBodyBytes int64) http.Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, inboundError("inbound: event body too large", goerrors.CategoryBadInput,
					http.StatusRequestEntityTooLarge, core.RelayErrorBadInput, map[string]any{"limit": maxBodyBytes}))
				return
			}
			writeError(w, inboundBadInput(err, "inbound: read event body", nil))
			return
		}

		headers := make(map[string]string, len(req.Header))
		for name := range req.Header {
			headers[name] = req.Header.Get(name)
		}
		result, err := r.Receive(req.Context(), Request{Body: body, Headers: headers})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, result.StatusCode, result)
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := errorDetail{TextCode: core.RelayErrorInternal, Message: err.Error()}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if rich.Code > 0 {
			status = rich.Code
		}
		if rich.TextCode != "" {
			detail.TextCode = rich.TextCode
		}
		if rich.Message != "" {
			detail.Message = rich.Message
		}
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
