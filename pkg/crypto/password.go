package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/smarzola/dirsync/pkg/config"
	"golang.org/x/crypto/argon2"
)

const (
	argon2VersionString = "argon2id"
	argon2Version       = 19 // Argon2id version

	// UnusablePrefix marks a stored hash that no password can match.
	// Directory-managed identities carry one until an operator sets a
	// local fallback password.
	UnusablePrefix = "!"
)

// PasswordHasher hashes local fallback passwords for synced identities
type PasswordHasher struct {
	cfg config.Argon2Config
}

// NewPasswordHasher creates a new password hasher
func NewPasswordHasher(cfg config.Argon2Config) *PasswordHasher {
	return &PasswordHasher{cfg: cfg}
}

// Hash hashes a password using Argon2id
// Returns hash in format: $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
func (ph *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	salt := make([]byte, ph.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, ph.cfg.Iterations, ph.cfg.Memory, ph.cfg.Parallelism, ph.cfg.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2VersionString,
		argon2Version,
		ph.cfg.Memory,
		ph.cfg.Iterations,
		ph.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify verifies a password against its hash. The cost parameters are read
// from the hash itself so hashes survive configuration changes.
// Unusable hashes never verify.
func (ph *PasswordHasher) Verify(password, hashedPassword string) (bool, error) {
	if IsUnusable(hashedPassword) {
		return false, nil
	}

	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("invalid hash format")
	}
	if parts[1] != argon2VersionString {
		return false, fmt.Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("invalid hash parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}

// UnusablePassword returns a random marker that IsUnusable recognises.
func UnusablePassword() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return UnusablePrefix
	}
	return UnusablePrefix + base64.RawURLEncoding.EncodeToString(buf)
}

// IsUnusable reports whether a stored hash is empty or an unusable marker.
func IsUnusable(hashedPassword string) bool {
	return hashedPassword == "" || strings.HasPrefix(hashedPassword, UnusablePrefix)
}
