// Package webhooksig verifies webhook signatures in the Standard Webhooks
// layout (webhook-id / webhook-timestamp / webhook-signature) and the older
// single-header "t=...,v1=..." layout.
package webhooksig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"
)

const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"
	HeaderLegacy    = "X-Webhook-Signature"

	secretPrefix     = "whsec_"
	DefaultTolerance = 5 * time.Minute
)

var (
	ErrMissingSignature    = errors.New("missing webhook signature")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrTimestampOutOfRange = errors.New("webhook timestamp outside tolerance")
)

// Verifier checks signatures against one shared secret.
type Verifier struct {
	key       []byte
	standard  *standardwebhooks.Webhook
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier accepts either a "whsec_"-prefixed base64 secret or a raw one.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	key, err := DecodeSecret(secret)
	if err != nil {
		return nil, err
	}
	standard, err := standardwebhooks.NewWebhookRaw(key)
	if err != nil {
		return nil, fmt.Errorf("webhook secret: %w", err)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{key: key, standard: standard, tolerance: tolerance, now: time.Now}, nil
}

// DecodeSecret returns the HMAC key bytes for secret.
func DecodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("webhook secret is empty")
	}
	if strings.HasPrefix(secret, secretPrefix) {
		key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
		if err != nil {
			return nil, fmt.Errorf("decode webhook secret: %w", err)
		}
		return key, nil
	}
	return []byte(secret), nil
}

// Verify validates the signature headers in h against body. It must run
// before the body is interpreted.
func (v *Verifier) Verify(h http.Header, body []byte) error {
	if sig := strings.TrimSpace(h.Get(HeaderSignature)); sig != "" {
		return v.verifyStandard(h, body)
	}
	if sig := strings.TrimSpace(h.Get(HeaderLegacy)); sig != "" {
		return v.verifyLegacy(sig, body)
	}
	return ErrMissingSignature
}

// verifyStandard enforces the configured tolerance itself; the library only
// checks the MAC so its fixed window does not apply.
func (v *Verifier) verifyStandard(h http.Header, body []byte) error {
	if strings.TrimSpace(h.Get(HeaderID)) == "" {
		return fmt.Errorf("%w: missing %s", ErrMissingSignature, HeaderID)
	}
	if _, err := v.checkTimestamp(h.Get(HeaderTimestamp)); err != nil {
		return err
	}
	if err := v.standard.VerifyIgnoringTimestamp(body, h); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// The legacy header predates Standard Webhooks and no library speaks it, so it
// is checked with crypto/hmac directly.
func (v *Verifier) verifyLegacy(header string, body []byte) error {
	var (
		ts   string
		sigs []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			sigs = append(sigs, value)
		}
	}
	if len(sigs) == 0 {
		return ErrMissingSignature
	}
	at, err := v.checkTimestamp(ts)
	if err != nil {
		return err
	}
	expected := v.mac(strconv.FormatInt(at, 10) + "." + string(body))
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func (v *Verifier) checkTimestamp(raw string) (int64, error) {
	at, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	drift := v.now().Unix() - at
	if math.Abs(float64(drift)) > v.tolerance.Seconds() {
		return 0, ErrTimestampOutOfRange
	}
	return at, nil
}

func (v *Verifier) mac(content string) []byte {
	m := hmac.New(sha256.New, v.key)
	m.Write([]byte(content))
	return m.Sum(nil)
}

// Sign produces the headers a sender attaches in the Standard Webhooks layout.
func Sign(secret, id string, at time.Time, body []byte) (http.Header, error) {
	key, err := DecodeSecret(secret)
	if err != nil {
		return nil, err
	}
	wh, err := standardwebhooks.NewWebhookRaw(key)
	if err != nil {
		return nil, fmt.Errorf("webhook secret: %w", err)
	}
	sig, err := wh.Sign(id, at, body)
	if err != nil {
		return nil, fmt.Errorf("sign webhook %s: %w", id, err)
	}
	h := http.Header{}
	h.Set(HeaderID, id)
	h.Set(HeaderTimestamp, strconv.FormatInt(at.Unix(), 10))
	h.Set(HeaderSignature, sig)
	return h, nil
}

// SignLegacy produces the single "t=...,v1=..." header value.
func SignLegacy(secret string, at time.Time, body []byte) (string, error) {
	key, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}
	ts := strconv.FormatInt(at.Unix(), 10)
	m := hmac.New(sha256.New, key)
	m.Write([]byte(ts + "." + string(body)))
	return "t=" + ts + ",v1=" + hex.EncodeToString(m.Sum(nil)), nil
}
