package inbound

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	SignatureHeader = "X-Relay-Signature"
	signaturePrefix = "sha256="
)

var (
	ErrMissingSignature = errors.New("inbound: signature header is missing")
	ErrInvalidSignature = errors.New("inbound: signature does not match")
)

type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

type VerifierFunc func(ctx context.Context, req Request) error

func (f VerifierFunc) Verify(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// SharedSecretVerifier checks "X-Relay-Signature: sha256=<hex>" against an
// HMAC-SHA256 of the raw body.
type SharedSecretVerifier struct {
	secret []byte
}

func NewSharedSecretVerifier(secret string) *SharedSecretVerifier {
	return &SharedSecretVerifier{secret: []byte(strings.TrimSpace(secret))}
}

func (v *SharedSecretVerifier) Verify(_ context.Context, req Request) error {
	if v == nil || len(v.secret) == 0 {
		return nil
	}
	header := strings.TrimSpace(req.Header(SignatureHeader))
	if header == "" {
		return ErrMissingSignature
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(provided, v.sign(req.Body)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign renders the header value a gateway sends for body.
func (v *SharedSecretVerifier) Sign(body []byte) string {
	if v == nil {
		return ""
	}
	return signaturePrefix + hex.EncodeToString(v.sign(body))
}

func (v *SharedSecretVerifier) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return mac.Sum(nil)
}
