package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns a bcrypt hash of the supplied password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares the hashed password with the plaintext candidate.
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// codeAlphabet avoids characters that read ambiguously on printed vouchers
// (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode produces a redemption code of the form PREFIX-XXXX-XXXX-XXXX
// using a crypto-random draw over an unambiguous alphabet. length counts the
// random characters, grouped four at a time.
func GenerateCode(prefix string, length int) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "TEAM"
	}
	if length <= 0 {
		return "", errors.New("crypto: code length must be positive")
	}

	max := big.NewInt(int64(len(codeAlphabet)))
	raw := make([]byte, length)
	for i := range raw {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		raw[i] = codeAlphabet[n.Int64()]
	}

	parts := []string{prefix}
	for i := 0; i < length; i += 4 {
		end := i + 4
		if end > length {
			end = length
		}
		parts = append(parts, string(raw[i:end]))
	}
	return strings.Join(parts, "-"), nil
}
