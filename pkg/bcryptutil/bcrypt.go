package bcryptutil

import (
	"golang.org/x/crypto/bcrypt"
)

// Hash returns the bcrypt hash of the given secret.
func Hash(s string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares a plain text secret with a stored bcrypt hash.
// Returns true if they match.
func Verify(s string, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(s)) == nil
}
