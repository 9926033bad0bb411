package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
)

var fastCosts = config.PasswordConfig{
	ArgonMemoryKB:    8192,
	ArgonTime:        1,
	ArgonParallelism: 1,
	ArgonSaltLen:     16,
	ArgonKeyLen:      32,
}

func TestHashAndVerify(t *testing.T) {
	h := NewHasher(fastCosts)

	encoded, err := h.Hash("correct horse 9")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$"))

	ok, err := h.Verify("correct horse 9", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong horse 9", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := h.Hash("correct horse 9")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, again, "salt must differ per hash")

	_, err = h.Hash("")
	assert.Error(t, err)
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	h := NewHasher(fastCosts)
	for _, encoded := range []string{
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$!!",
	} {
		_, err := h.Verify("x", encoded)
		assert.ErrorIs(t, err, ErrInvalidHash, encoded)
	}
}

func TestNeedsRehashWhenCostsChange(t *testing.T) {
	old := NewHasher(fastCosts)
	encoded, err := old.Hash("letters4ndDigit")
	require.NoError(t, err)
	assert.False(t, old.NeedsRehash(encoded))

	stronger := fastCosts
	stronger.ArgonTime = 2
	current := NewHasher(stronger)
	assert.True(t, current.NeedsRehash(encoded))

	ok, err := current.Verify("letters4ndDigit", encoded)
	require.NoError(t, err)
	assert.True(t, ok, "old hashes keep verifying under new costs")

	assert.True(t, current.NeedsRehash("garbage"))
}

func TestNewHasherClampsCosts(t *testing.T) {
	h := NewHasher(config.PasswordConfig{})
	assert.Equal(t, params{memory: 8, time: 1, threads: 1, saltLen: 8, keyLen: 16}, h.p)
}

func TestCheckPasswordPolicy(t *testing.T) {
	cases := map[string]bool{
		"short1":                 false,
		"onlyletters":            false,
		"1234567890":             false,
		"letters4ndDigit":        true,
		strings.Repeat("a1", 65): false,
	}
	for pw, ok := range cases {
		err := CheckPasswordPolicy(pw)
		if ok {
			assert.NoError(t, err, pw)
		} else {
			assert.ErrorIs(t, err, ErrWeakPassword, pw)
		}
	}
	assert.NoError(t, CheckPasswordPolicy("ñandú-contraseña-2"))
}
