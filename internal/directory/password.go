package directory

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"singalong/pkg/models"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 6

var hashCost = bcrypt.DefaultCost

func checkPasswordStrength(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// passwordMatches compares password against the stored hash, or against a
// plaintext password carried over from an older snapshot.
func passwordMatches(a models.Account, password string) bool {
	if a.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
	}
	if a.Password != "" {
		return subtle.ConstantTimeCompare([]byte(a.Password), []byte(password)) == 1
	}
	return false
}

// upgradeLegacyPassword replaces a plaintext password with its hash
func upgradeLegacyPassword(a *models.Account) error {
	if a.Password == "" {
		return nil
	}
	if a.PasswordHash == "" {
		hash, err := hashPassword(a.Password)
		if err != nil {
			return err
		}
		a.PasswordHash = hash
	}
	a.Password = ""
	return nil
}
