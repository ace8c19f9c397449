package auth

import (
	"crypto/subtle"
	"strings"
)

// CronVerifier checks the shared secret presented by the external scheduler.
type CronVerifier struct {
	secret string
}

// NewCronVerifier creates a verifier for the given shared secret.
func NewCronVerifier(secret string) *CronVerifier {
	return &CronVerifier{secret: secret}
}

// VerifyHeader checks an Authorization header value of the form
// "Bearer <secret>". Comparison is constant time.
func (v *CronVerifier) VerifyHeader(header string) bool {
	if v.secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(v.secret)) == 1
}
