package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureHeader carries the signed delivery token.
const SignatureHeader = "X-Safmiles-Signature"

const signatureIssuer = "safmiles"

// ErrBodyMismatch is returned when a token does not cover the received body.
var ErrBodyMismatch = errors.New("webhook: body digest mismatch")

// payloadClaims binds a token to the exact body it was issued for.
type payloadClaims struct {
	BodySHA256 string `json:"body_sha256"`
	jwt.RegisteredClaims
}

// JWTSigner signs each payload with an HS256 token whose claims include the
// SHA-256 digest of the body. Tokens expire after TTL (default 5m).
type JWTSigner struct {
	TTL time.Duration
	Now func() time.Time
}

func (s JWTSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Sign implements Signer.
func (s JWTSigner) Sign(payload []byte, secret string) (map[string]string, error) {
	ttl := s.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	now := s.now()
	claims := payloadClaims{
		BodySHA256: digest(payload),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signatureIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign webhook token: %w", err)
	}
	return map[string]string{SignatureHeader: signed}, nil
}

// Verify checks that token was issued with secret for payload. Receivers call
// it with the raw request body.
func Verify(token string, payload []byte, secret string) error {
	var claims payloadClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(signatureIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("webhook: invalid signature: %w", err)
	}
	if claims.BodySHA256 != digest(payload) {
		return ErrBodyMismatch
	}
	return nil
}
