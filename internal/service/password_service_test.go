package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashIsSalted(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	first, err := hasher.Hash("secret")
	require.NoError(t, err)
	second, err := hasher.Hash("secret")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, VerifyMatch, hasher.Verify(first, "secret"))
	assert.Equal(t, VerifyMatch, hasher.Verify(second, "secret"))
}

func TestPasswordVerifyMismatch(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("secret")
	require.NoError(t, err)

	assert.Equal(t, VerifyMismatch, hasher.Verify(hash, "wrong"))
	assert.Equal(t, VerifyMismatch, hasher.Verify("not-a-bcrypt-hash", "secret"))
}

func TestPasswordVerifyNeedsRehash(t *testing.T) {
	legacy := NewPasswordHasher(bcrypt.MinCost)
	current := NewPasswordHasher(bcrypt.MinCost + 2)

	hash, err := legacy.Hash("secret")
	require.NoError(t, err)

	assert.Equal(t, VerifyNeedsRehash, current.Verify(hash, "secret"))
	// Wrong password stays a mismatch even when the hash is legacy.
	assert.Equal(t, VerifyMismatch, current.Verify(hash, "wrong"))
}

func TestPasswordHasherRejectsBogusCost(t *testing.T) {
	hasher := NewPasswordHasher(99)

	hash, err := hasher.Hash("secret")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}
