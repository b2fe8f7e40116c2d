package webhooksig

import (
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var body = []byte(`{"action":"membership.went_valid","data":{"id":"mem_1"}}`)

func fixedVerifier(t *testing.T, secret string, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(secret, time.Minute)
	require.NoError(t, err)
	v.now = func() time.Time { return now }
	return v
}

func TestVerifyStandardRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("super-secret"))

	h, err := Sign(secret, "msg_1", now, body)
	require.NoError(t, err)

	v := fixedVerifier(t, secret, now.Add(30*time.Second))
	assert.NoError(t, v.Verify(h, body))
}

func TestVerifyStandardAcceptsAnyListedSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h, err := Sign("raw-secret", "msg_1", now, body)
	require.NoError(t, err)
	h.Set(HeaderSignature, "v1,Zm9v "+h.Get(HeaderSignature))

	v := fixedVerifier(t, "raw-secret", now)
	assert.NoError(t, v.Verify(h, body))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h, err := Sign("raw-secret", "msg_1", now, body)
	require.NoError(t, err)

	v := fixedVerifier(t, "raw-secret", now)
	assert.ErrorIs(t, v.Verify(h, []byte(`{"action":"membership.went_invalid"}`)), ErrInvalidSignature)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h, err := Sign("one", "msg_1", now, body)
	require.NoError(t, err)

	v := fixedVerifier(t, "two", now)
	assert.ErrorIs(t, v.Verify(h, body), ErrInvalidSignature)
}

func TestVerifyRejectsOldTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h, err := Sign("raw-secret", "msg_1", now, body)
	require.NoError(t, err)

	v := fixedVerifier(t, "raw-secret", now.Add(10*time.Minute))
	assert.ErrorIs(t, v.Verify(h, body), ErrTimestampOutOfRange)
}

func TestVerifyMissingHeaders(t *testing.T) {
	v := fixedVerifier(t, "raw-secret", time.Now())
	assert.ErrorIs(t, v.Verify(http.Header{}, body), ErrMissingSignature)

	h := http.Header{}
	h.Set(HeaderSignature, "v1,abc")
	assert.ErrorIs(t, v.Verify(h, body), ErrMissingSignature)
}

func TestVerifyLegacyHeader(t *testing.T) {
	now := time.Unix(1700000000, 0)
	value, err := SignLegacy("raw-secret", now, body)
	require.NoError(t, err)

	v := fixedVerifier(t, "raw-secret", now)
	h := http.Header{}
	h.Set(HeaderLegacy, value)
	assert.NoError(t, v.Verify(h, body))

	h.Set(HeaderLegacy, "t=1700000000,v1=deadbeef")
	assert.ErrorIs(t, v.Verify(h, body), ErrInvalidSignature)
}

func TestDecodeSecret(t *testing.T) {
	key, err := DecodeSecret("whsec_" + base64.StdEncoding.EncodeToString([]byte("k")))
	require.NoError(t, err)
	assert.Equal(t, []byte("k"), key)

	_, err = DecodeSecret("whsec_%%%")
	assert.Error(t, err)

	_, err = DecodeSecret("  ")
	assert.Error(t, err)
}

func TestSignInteroperatesWithStandardWebhooks(t *testing.T) {
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("shared-key"))
	now := time.Now()
	h, err := Sign(secret, "msg_std", now, body)
	require.NoError(t, err)

	wh, err := standardwebhooks.NewWebhook(secret)
	require.NoError(t, err)
	assert.NoError(t, wh.Verify(body, h))

	sig, err := wh.Sign("msg_std", now, body)
	require.NoError(t, err)
	h.Set(HeaderSignature, sig)
	v, err := NewVerifier(secret, time.Minute)
	require.NoError(t, err)
	assert.NoError(t, v.Verify(h, body))
}
