package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Webhook signature headers.
const (
	HeaderWebhookTimestamp = "X-Marketd-Timestamp"
	HeaderWebhookSignature = "X-Marketd-Signature"
)

// WebhookSigner signs outbound webhook bodies so receivers can check origin
// and freshness. The signature is hex(HMAC-SHA256(secret, timestamp + "." +
// body)).
type WebhookSigner struct {
	secret []byte
	now    func() time.Time
}

// NewWebhookSigner creates a signer for secret.
func NewWebhookSigner(secret string) *WebhookSigner {
	return &WebhookSigner{secret: []byte(secret), now: time.Now}
}

// Headers returns the timestamp and signature headers for body.
func (w *WebhookSigner) Headers(body []byte) map[string]string {
	return w.HeadersAt(body, w.now().Unix())
}

// HeadersAt is Headers with a caller-supplied unix timestamp.
func (w *WebhookSigner) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderWebhookTimestamp: ts,
		HeaderWebhookSignature: w.sign(ts, body),
	}
}

// Verify checks a received signature and rejects timestamps older than
// maxAge.
func (w *WebhookSigner) Verify(body []byte, ts, sig string, maxAge time.Duration) error {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: webhook timestamp %q: %w", ts, err)
	}
	if age := w.now().Sub(time.Unix(unix, 0)); age > maxAge || age < -maxAge {
		return fmt.Errorf("crypto: webhook timestamp outside %s window", maxAge)
	}
	want, _ := hex.DecodeString(w.sign(ts, body))
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(want, got) {
		return ErrBadSignature
	}
	return nil
}

func (w *WebhookSigner) sign(ts string, body []byte) string {
	mac := hmac.New(sha256.New, w.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted form suitable for logging.
func (w *WebhookSigner) String() string {
	if len(w.secret) <= 4 {
		return "WebhookSigner{secret=****}"
	}
	return fmt.Sprintf("WebhookSigner{secret=%s****}", w.secret[:4])
}
