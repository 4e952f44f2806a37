package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSalt = []byte("test-api-key-salt-0123456789abcd")

func TestGenerateValidate(t *testing.T) {
	key := generate(7, 3, 1, testSalt)
	assert.Len(t, key, 32)

	appid, sequence, isRoot, err := validate(key, testSalt)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), appid)
	assert.Equal(t, uint16(3), sequence)
	assert.True(t, isRoot)

	_, _, isRoot, err = validate(generate(7, 4, 0, testSalt), testSalt)
	require.NoError(t, err)
	assert.False(t, isRoot)
}

func TestValidateInvalid(t *testing.T) {
	key := generate(1, 1, 1, testSalt)

	_, _, _, err := validate(key, []byte("other-salt"))
	assert.EqualError(t, err, "invalid signature")

	_, _, _, err = validate(key[:28], testSalt)
	assert.EqualError(t, err, "invalid key length")

	_, _, _, err = validate("################################", testSalt)
	assert.Error(t, err)
}

func TestGenerateStable(t *testing.T) {
	assert.Equal(t, generate(1, 1, 1, testSalt), generate(1, 1, 1, testSalt))
	assert.NotEqual(t, generate(1, 1, 1, testSalt), generate(1, 1, 0, testSalt))
}
