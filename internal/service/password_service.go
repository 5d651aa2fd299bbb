package service

import (
	"golang.org/x/crypto/bcrypt"
)

// VerifyResult is the outcome of checking a plaintext against a stored hash.
type VerifyResult int

const (
	// VerifyMismatch means the plaintext does not match the stored hash.
	VerifyMismatch VerifyResult = iota
	// VerifyMatch means the plaintext matches the stored hash.
	VerifyMatch
	// VerifyNeedsRehash means the plaintext matches but the hash was created
	// with a lower cost than currently configured. Callers treat it as a
	// match and may re-hash the credential.
	VerifyNeedsRehash
)

// PasswordHasher hashes and verifies passwords with bcrypt. Stateless and
// safe for concurrent use.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher using the given bcrypt cost. A cost
// outside bcrypt's supported range falls back to the library default.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns a salted one-way hash of the plaintext. Hashing the same
// plaintext twice yields different strings; both verify.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares plaintext against a stored hash. bcrypt performs the digest
// comparison in constant time against its own encoded digest.
func (h *PasswordHasher) Verify(hash, plaintext string) VerifyResult {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)); err != nil {
		return VerifyMismatch
	}
	if cost, err := bcrypt.Cost([]byte(hash)); err == nil && cost < h.cost {
		return VerifyNeedsRehash
	}
	return VerifyMatch
}
