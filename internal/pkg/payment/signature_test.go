package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"type":"invoice.paid","id":"evt_1"}`)
	secret := "whsec_test_secret"
	valid := signPayload(payload, secret)

	assert.True(t, VerifyWebhookSignature(payload, valid, secret))
	assert.True(t, VerifyWebhookSignature(payload, "  "+valid+"  ", secret), "surrounding whitespace is tolerated")

	upper := make([]byte, len(valid))
	for i := 0; i < len(valid); i++ {
		c := valid[i]
		if c >= 'a' && c <= 'f' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	assert.True(t, VerifyWebhookSignature(payload, string(upper), secret), "hex case is irrelevant")
}

func TestVerifyWebhookSignatureRejects(t *testing.T) {
	payload := []byte(`{"type":"invoice.paid"}`)
	secret := "whsec_test_secret"

	assert.False(t, VerifyWebhookSignature(payload, signPayload(payload, "wrong_secret"), secret))
	assert.False(t, VerifyWebhookSignature([]byte(`{"type":"tampered"}`), signPayload(payload, secret), secret))
	assert.False(t, VerifyWebhookSignature(payload, "not-hex!", secret))
	assert.False(t, VerifyWebhookSignature(payload, "", secret))
	assert.False(t, VerifyWebhookSignature(payload, signPayload(payload, secret), ""))
}
