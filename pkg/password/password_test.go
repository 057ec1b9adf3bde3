package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("s3cret")
	require.NoError(t, err)

	assert.True(t, IsHash(hash))
	assert.True(t, Verify("s3cret", hash))
	assert.False(t, Verify("wrong", hash))
	assert.False(t, Verify("s3cret", "not-a-hash"))
	assert.False(t, IsHash("plain-text"))

	_, err = Hash("")
	assert.Error(t, err)
}
