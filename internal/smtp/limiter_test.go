package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionLimiter_MaxConns(t *testing.T) {
	l := NewConnectionLimiter(2, 0)

	assert.True(t, l.Acquire())
	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire())
	assert.Equal(t, 2, l.Current())

	l.Release()
	assert.True(t, l.Acquire())

	l.Release()
	l.Release()
	l.Release()
	assert.Equal(t, 0, l.Current())
}

func TestConnectionLimiter_Rate(t *testing.T) {
	l := NewConnectionLimiter(0, 2)

	assert.True(t, l.Acquire())
	assert.True(t, l.Acquire())
	// 令牌桶容量为 2，第三次立即请求被拒绝
	assert.False(t, l.Acquire())
}
