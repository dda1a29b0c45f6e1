// Package auth validates the signed join token clients present on
// their "offer" signaling message, adapting the retrieved rillnet
// auth_service.go (HMAC access tokens) to the RS256-with-PEM-public-key
// scheme this SFU's join protocol requires.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaymesh/sfu/internal/room"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures, and
	// tokens missing required claims.
	ErrInvalidToken = errors.New("invalid join token")
	// ErrExpiredToken is returned separately so callers that want to
	// distinguish "try again" from "reject" can do so.
	ErrExpiredToken = errors.New("join token expired")
)

// JoinClaims is the payload a valid offer token must carry.
type JoinClaims struct {
	ClientId room.ClientId `json:"user_id"`
	RoomId   room.RoomId   `json:"room"`
	jwt.RegisteredClaims
}

// Validator verifies RS256-signed join tokens against a public key
// loaded once at startup.
type Validator struct {
	publicKey *rsa.PublicKey
}

// LoadValidator reads a PEM-encoded RSA public key from path. An
// absent or empty file is a fatal startup error, per the join-token
// contract.
func LoadValidator(path string) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading JWT public key %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("JWT public key file %q is empty", path)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("JWT public key %q is not valid PEM", path)
	}

	pub, err := parseRSAPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing JWT public key %q: %w", path, err)
	}

	return &Validator{publicKey: pub}, nil
}

func parseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	if cert, err := x509.ParseCertificate(der); err == nil {
		if pub, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return pub, nil
		}
	}

	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		if pub, ok := key.(*rsa.PublicKey); ok {
			return pub, nil
		}
		return nil, errors.New("PEM key is not an RSA public key")
	}

	if pub, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return pub, nil
	}

	return nil, errors.New("unrecognized RSA public key encoding")
}

// ValidateOfferToken parses and verifies tokenString, requiring the
// user_id and room claims to both be present and positive.
func (v *Validator) ValidateOfferToken(tokenString string) (JoinClaims, error) {
	var claims JoinClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidToken
		}
		return v.publicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return JoinClaims{}, ErrExpiredToken
		}
		return JoinClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return JoinClaims{}, ErrInvalidToken
	}
	if claims.ClientId == 0 {
		return JoinClaims{}, fmt.Errorf("%w: user_id must be positive", ErrInvalidToken)
	}
	if claims.RoomId == 0 {
		return JoinClaims{}, fmt.Errorf("%w: room must be positive", ErrInvalidToken)
	}

	return claims, nil
}
