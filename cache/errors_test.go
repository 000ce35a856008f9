package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("redis.port", "must be between 1 and 65535", nil)
	assert.Equal(t, "cache configuration error: redis.port: must be between 1 and 65535", err.Error())

	cause := errors.New("parse failure")
	wrapped := NewConfigError("redis.port", "invalid", cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "parse failure")
}

func TestConnectionError(t *testing.T) {
	cause := errors.New("refused")
	err := NewConnectionError("ping", "localhost:6379", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "cache connection error: ping failed for localhost:6379: refused", err.Error())
}

func TestOperationError(t *testing.T) {
	cause := errors.New("boom")

	single := NewOperationError("get", "shop:user:id", "42", cause)
	assert.ErrorIs(t, single, cause)
	assert.Contains(t, single.Error(), `"42"`)
	assert.Contains(t, single.Error(), `"shop:user:id"`)

	multi := NewOperationError("mget", "shop:user:id", "", cause)
	assert.NotContains(t, multi.Error(), `for ""`)

	var opErr *OperationError
	assert.True(t, errors.As(error(single), &opErr))
	assert.Equal(t, "get", opErr.Op)
}
