package twitch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature checks the EventSub HMAC over messageID || timestamp || body.
// body must be the raw request bytes.
func VerifySignature(messageID, timestamp string, body []byte, signatureHeader, secret string) bool {
	if len(signatureHeader) < len(signaturePrefix) || !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}

	expected, err := hex.DecodeString(signatureHeader[len(signaturePrefix):])
	if err != nil {
		return false
	}

	return hmac.Equal(messageMAC(messageID, timestamp, body, secret), expected)
}

// Sign returns the signature header value Twitch sends for the message.
func Sign(messageID, timestamp string, body []byte, secret string) string {
	return signaturePrefix + hex.EncodeToString(messageMAC(messageID, timestamp, body, secret))
}

func messageMAC(messageID, timestamp string, body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return mac.Sum(nil)
}
