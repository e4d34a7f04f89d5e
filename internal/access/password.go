package access

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashSecret hashes a password or client secret with bcrypt. A cost of
// zero uses the bcrypt default.
func HashSecret(plaintext string, cost int) (string, error) {
	if len(plaintext) == 0 {
		return "", errors.New("access: secret is empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret compares a plaintext secret with its stored bcrypt hash.
func VerifySecret(hash, plaintext string) error {
	if hash == "" {
		return errors.New("access: secret hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
}
