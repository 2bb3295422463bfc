package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourney/backend/internal/domain"
)

func TestConversationService_OpenMarksRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "Team One")

	res, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("team-one@cup.test", "ref@league.test", "Plan", "a", "<a@x>"))
	require.NoError(t, err)
	reply := inbound("team-one@cup.test", "ref@league.test", "Re: Plan", "b", "<b@x>")
	reply.InReplyTo = "<a@x>"
	_, err = f.ingest.Ingest(ctx, SourceSMTP, reply)
	require.NoError(t, err)

	thread, err := f.conversations.Open(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 0, thread.Conversation.UnreadCount)
	require.Len(t, thread.Messages, 2)
	for _, m := range thread.Messages {
		assert.True(t, m.Read)
	}
	assert.Equal(t, "a", thread.Messages[0].BodyText)

	again, err := f.conversations.Open(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Conversation.UnreadCount, "second read stays at floor")

	_, err = f.conversations.Open(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationService_List(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "Team One")

	older, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("team-one@cup.test", "a@x.test", "old", "a", "<o@x>"))
	require.NoError(t, err)
	newer, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("team-one@cup.test", "b@x.test", "new", "b", "<n@x>"))
	require.NoError(t, err)

	convs, err := f.conversations.List(ctx, "1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, newer.ConversationID, convs[0].ID)
	assert.Equal(t, older.ConversationID, convs[1].ID)

	// 旧会话收到回复后排到最前
	reply := inbound("team-one@cup.test", "a@x.test", "Re: old", "c", "<o2@x>")
	reply.InReplyTo = "<o@x>"
	_, err = f.ingest.Ingest(ctx, SourceSMTP, reply)
	require.NoError(t, err)

	convs, err = f.conversations.List(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, older.ConversationID, convs[0].ID)

	_, err = f.conversations.List(ctx, "no-team")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationService_TeamOf(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "Team One")

	res, err := f.ingest.Ingest(ctx, SourceWebhook, inbound("team-one@cup.test", "a@x.test", "s", "b", ""))
	require.NoError(t, err)

	team, err := f.conversations.TeamOf(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "1", team)

	_, err = f.conversations.TeamOf(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
