package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"smsrelay/api/internal/util"
)

// TokenBytes is the entropy of a session token before hex encoding.
const TokenBytes = 32

var ErrPasswordMismatch = errors.New("password mismatch")

// NewToken returns a fresh opaque session token.
func NewToken() (string, error) {
	token, err := util.RandomHex(TokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// HashToken is the key under which a token is held in memory.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

// SecretDigest is a keyed, deterministic digest of a viewer secret. Equal
// secrets produce equal digests, which lets the store look secrets up and
// enforce their uniqueness with an index.
func SecretDigest(pepper []byte, secret string) string {
	mac := hmac.New(sha256.New, pepper)
	_, _ = mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func ComparePassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrPasswordMismatch
	}
	return nil
}
