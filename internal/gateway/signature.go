package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader          = "Omise-Signature"
	SignatureTimestampHeader = "Omise-Signature-Timestamp"

	DefaultSignatureTolerance = 5 * time.Minute
)

// SignatureVerifier checks the HMAC-SHA256 of "timestamp.body" keyed by the
// base64 webhook secret. The signature header may list several comma separated
// signatures during secret rotation.
type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewSignatureVerifier(webhookSecret string) (*SignatureVerifier, error) {
	secret, err := base64.StdEncoding.DecodeString(webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("webhook secret is empty")
	}
	return &SignatureVerifier{secret: secret, tolerance: DefaultSignatureTolerance, now: time.Now}, nil
}

func (v *SignatureVerifier) Verify(payload []byte, headers http.Header) error {
	ts := headers.Get(SignatureTimestampHeader)
	sigs := headers.Get(SignatureHeader)
	if ts == "" || sigs == "" {
		return fmt.Errorf("%w: missing signature headers", ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	age := v.now().Sub(time.Unix(unix, 0))
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := v.sign(ts, payload)
	for _, s := range strings.Split(sigs, ",") {
		got, err := hex.DecodeString(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
}

// Sign returns the header values a sender would attach to payload at t.
func (v *SignatureVerifier) Sign(payload []byte, t time.Time) http.Header {
	ts := strconv.FormatInt(t.Unix(), 10)
	h := http.Header{}
	h.Set(SignatureTimestampHeader, ts)
	h.Set(SignatureHeader, hex.EncodeToString(v.sign(ts, payload)))
	return h
}

func (v *SignatureVerifier) sign(ts string, payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

var _ WebhookVerifier = (*SignatureVerifier)(nil)
