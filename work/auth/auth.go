package auth

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kptv-panel/work/database"
	"kptv-panel/work/logger"
	"kptv-panel/work/types"
)

// htpasswd's bcrypt variant. Apache writes $2y$ prefixes; Go's bcrypt only
// understands $2a$/$2b$, so the prefix is normalized in both directions.
const (
	htpasswdBcryptPrefix = "$2y$"
	goBcryptPrefix       = "$2a$"

	// HashCost matches `htpasswd -B` so hashes stay cheap enough for the
	// fronting reverse proxy to verify on every media request.
	HashCost = 10
)

// Verifier answers subscriber credential checks against the database. It is
// read-only; any verification problem is an authentication failure, never an
// error that reaches the caller.
type Verifier struct {
	db *database.DB
}

// NewVerifier creates a Verifier backed by the given database.
func NewVerifier(db *database.DB) *Verifier {
	return &Verifier{db: db}
}

// Verify reports whether the username/password pair belongs to a usable
// subscriber. Unknown users, disabled or expired records, malformed hashes
// and unsupported hash schemes all simply report false.
func (v *Verifier) Verify(username, password string) bool {
	if username == "" || password == "" {
		return false
	}

	sub, err := v.db.GetSubscriberByUsername(username)
	if err != nil {
		logger.Error("{auth - Verify} subscriber lookup failed for %q: %v", username, err)
		return false
	}
	if sub == nil {
		return false
	}
	if sub.Status == types.StatusDisabled || sub.Expired(time.Now()) {
		return false
	}

	return CheckHash(password, sub.PasswordHash)
}

// CheckHash compares a plaintext password against an htpasswd-style bcrypt
// hash. Comparison failures of any kind report false.
func CheckHash(password, hash string) bool {
	if strings.HasPrefix(hash, htpasswdBcryptPrefix) {
		hash = goBcryptPrefix + strings.TrimPrefix(hash, htpasswdBcryptPrefix)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword produces an htpasswd-compatible bcrypt hash ($2y$ prefix) for
// storage alongside the subscriber record.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	if err != nil {
		return "", err
	}
	out := string(hash)
	if strings.HasPrefix(out, goBcryptPrefix) {
		out = htpasswdBcryptPrefix + strings.TrimPrefix(out, goBcryptPrefix)
	}
	return out, nil
}
