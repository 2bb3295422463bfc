package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourney/backend/internal/domain"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"FC Köln", "fc-koeln"},
		{"Großhansdorf Ü40", "grosshansdorf-ue40"},
		{"  Équipe   Olé!! ", "equipe-ole"},
		{"SV 1860 München e.V.", "sv-1860-muenchen-e-v"},
		{"---", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.name), tt.name)
	}
}

func TestAliasService_Ensure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("按队伍名派生地址", func(t *testing.T) {
		alias := f.team(t, "1", "FC Köln")
		assert.Equal(t, "fc-koeln@cup.test", alias.EmailAddress)
		assert.Equal(t, "FC Köln", alias.AliasLabel)
		assert.True(t, alias.Active)
	})

	t.Run("重复调用返回同一别名", func(t *testing.T) {
		first := f.team(t, "2", "Blau Weiss")
		second, err := f.aliases.Ensure(ctx, "2", "Renamed Team")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.EmailAddress, second.EmailAddress)
	})

	t.Run("地址冲突时追加队伍 ID", func(t *testing.T) {
		alias := f.team(t, "3", "fc koln")
		assert.Equal(t, "fc-koln@cup.test", alias.EmailAddress)

		clash := f.team(t, "4", "FC Koln")
		assert.Equal(t, "fc-koln-4@cup.test", clash.EmailAddress)
	})

	t.Run("空名称", func(t *testing.T) {
		alias := f.team(t, "77", "!!!")
		assert.Equal(t, "team-77@cup.test", alias.EmailAddress)
	})

	t.Run("缺少队伍 ID", func(t *testing.T) {
		_, err := f.aliases.Ensure(ctx, " ", "x")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestAliasService_Resolve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alias := f.team(t, "1", "Team One")

	got, err := f.aliases.Resolve(ctx, "Team One <TEAM-ONE@cup.test>")
	require.NoError(t, err)
	assert.Equal(t, alias.ID, got.ID)

	_, err = f.aliases.Resolve(ctx, "nobody@cup.test")
	assert.ErrorIs(t, err, domain.ErrUnknownRecipient)

	_, err = f.aliases.Resolve(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnknownRecipient)

	toggled, err := f.aliases.SetActive(ctx, alias.ID, false)
	require.NoError(t, err)
	assert.False(t, toggled.Active)

	_, err = f.aliases.Resolve(ctx, alias.EmailAddress)
	assert.ErrorIs(t, err, domain.ErrUnknownRecipient, "inactive alias")

	_, err = f.aliases.SetActive(ctx, "missing", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAliasService_IsOwnAddress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "Team One")

	assert.True(t, f.aliases.IsOwnAddress(ctx, "team-one@cup.test"))
	assert.True(t, f.aliases.IsOwnAddress(ctx, "Anyone <whoever@CUP.test>"))
	assert.False(t, f.aliases.IsOwnAddress(ctx, "coach@club.test"))
	assert.False(t, f.aliases.IsOwnAddress(ctx, ""))
}
