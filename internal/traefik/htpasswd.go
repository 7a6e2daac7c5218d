package traefik

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns an htpasswd line (user:bcrypt-hash) for Traefik's
// basicauth middleware. With escapeForCompose every $ is doubled so the line
// can be pasted into a compose label or .env file.
func HashPassword(user, password string, escapeForCompose bool) (string, error) {
	if user == "" || strings.Contains(user, ":") {
		return "", errors.New("user must be non-empty and must not contain ':'")
	}
	if password == "" {
		return "", errors.New("password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	line := user + ":" + string(hash)
	if escapeForCompose {
		line = strings.ReplaceAll(line, "$", "$$")
	}
	return line, nil
}

// VerifyPassword checks password against an htpasswd line produced by
// HashPassword, escaped or not.
func VerifyPassword(line, password string) bool {
	_, hash, ok := strings.Cut(strings.ReplaceAll(line, "$$", "$"), ":")
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
