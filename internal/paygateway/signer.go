package paygateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer produces and checks callback signatures: lowercase hex of
// HMAC-SHA256(secret, gatewayOrderRef + "|" + paymentRef).
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Sign(gatewayOrderRef, paymentRef string) string {
	return hex.EncodeToString(s.mac(gatewayOrderRef, paymentRef))
}

// Verify compares in constant time. Malformed hex never verifies.
func (s *Signer) Verify(gatewayOrderRef, paymentRef, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.mac(gatewayOrderRef, paymentRef))
}

func (s *Signer) mac(gatewayOrderRef, paymentRef string) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(gatewayOrderRef + "|" + paymentRef))
	return m.Sum(nil)
}
