package hybrid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourney/backend/internal/cache"
	"tourney/backend/internal/domain"
	"tourney/backend/internal/storage/sql/sqltest"
)

func TestStore_AliasCache(t *testing.T) {
	ctx := context.Background()
	lc := cache.NewLocalCache(100, time.Minute)
	defer lc.Stop()

	s := NewStore(sqltest.NewStore(t), NewLocalAliasCache(lc), nil)

	alias := &domain.MailboxAlias{ID: "a1", TeamID: "t1", EmailAddress: "team1@cup.example", Active: true}
	require.NoError(t, s.CreateAlias(ctx, alias))
	assert.Equal(t, 2, lc.Len())

	got, err := s.GetAliasByAddress(ctx, "TEAM1@cup.example")
	require.NoError(t, err)
	assert.True(t, got.Active)

	t.Run("停用后缓存失效", func(t *testing.T) {
		require.NoError(t, s.SetAliasActive(ctx, "a1", false))
		assert.Equal(t, 0, lc.Len())

		got, err := s.GetAliasByTeamID(ctx, "t1")
		require.NoError(t, err)
		assert.False(t, got.Active)
		assert.Equal(t, 2, lc.Len())
	})

	t.Run("未知地址不缓存", func(t *testing.T) {
		_, err := s.GetAliasByAddress(ctx, "nobody@cup.example")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, 2, lc.Len())
	})
}
