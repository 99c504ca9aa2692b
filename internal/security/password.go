package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt work factor used for account secrets.
const PasswordCost = 10

var ErrPasswordMismatch = errors.New("password mismatch")

// HashPassword hashes a plain text secret with a salted bcrypt hash.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), PasswordCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// CheckPassword compares a stored bcrypt hash against a plaintext secret.
// Any mismatch, including a malformed hash, is reported as ErrPasswordMismatch.
func CheckPassword(hash, plain string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if err != nil {
		return ErrPasswordMismatch
	}
	return nil
}
