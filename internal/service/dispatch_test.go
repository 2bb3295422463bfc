package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tourney/backend/internal/domain"
)

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Plan", ReplySubject("Plan"))
	assert.Equal(t, "Re: Plan", ReplySubject("Re: Plan"))
	assert.Equal(t, "RE: Plan", ReplySubject("RE: Plan"))
	assert.Equal(t, "re:Plan", ReplySubject("re:Plan"))
	assert.Equal(t, "Re: "+domain.DefaultSubject, ReplySubject(""))
}

func TestDispatchService_Reply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alias := f.team(t, "1", "Team One")

	in, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("team-one@cup.test", "Ref <ref@league.test>", "Spielplan", "wann?", "<q1@league.test>"))
	require.NoError(t, err)

	f.transport.On("Send", mock.Anything).Return(nil).Once()

	res, err := f.dispatch.Send(ctx, domain.OutboundEmail{
		TeamID:    "1",
		ToAddress: "attacker@evil.test",
		Subject:   "ignored",
		Text:      "um 10",
		InReplyTo: "<q1@league.test>",
	})
	require.NoError(t, err)
	assert.Equal(t, in.ConversationID, res.ConversationID)
	f.transport.AssertExpectations(t)

	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ref@league.test", sent[0].To)
	assert.Equal(t, "Re: Spielplan", sent[0].Subject)
	assert.Equal(t, alias.EmailAddress, sent[0].From)
	assert.Equal(t, "Team One", sent[0].FromName)
	assert.Equal(t, "<q1@league.test>", sent[0].InReplyTo)
	assert.Equal(t, []string{"<q1@league.test>"}, sent[0].References)
	assert.Equal(t, res.ExternalMessageID, sent[0].MessageID)

	msgs, err := f.store.ListMessages(ctx, in.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	out := msgs[1]
	assert.Equal(t, domain.DirectionOutgoing, out.Direction)
	assert.True(t, out.Read)
	assert.Equal(t, "ref@league.test", out.ToAddress)

	conv, err := f.store.GetConversation(ctx, in.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount, "outgoing mail does not count as unread")

	t.Run("回复自己发出的邮件时仍发给对方且不重复加前缀", func(t *testing.T) {
		f.transport.On("Send", mock.Anything).Return(nil).Once()
		_, err := f.dispatch.Send(ctx, domain.OutboundEmail{TeamID: "1", ConversationID: in.ConversationID, Text: "noch was"})
		require.NoError(t, err)

		sent := f.transport.Sent()
		last := sent[len(sent)-1]
		assert.Equal(t, "ref@league.test", last.To)
		assert.Equal(t, "Re: Spielplan", last.Subject)
		assert.Equal(t, res.ExternalMessageID, last.InReplyTo)
		assert.Equal(t, []string{"<q1@league.test>", res.ExternalMessageID}, last.References)
	})

	t.Run("固定主题加一次回复前缀", func(t *testing.T) {
		for _, tc := range []struct{ subject, want string }{
			{"Eingangsbestätigung", "Re: Eingangsbestätigung"},
			{"Re: Eingangsbestätigung", "Re: Eingangsbestätigung"},
		} {
			f.transport.On("Send", mock.Anything).Return(nil).Once()
			_, err := f.dispatch.Send(ctx, domain.OutboundEmail{
				TeamID:         "1",
				ConversationID: in.ConversationID,
				Subject:        tc.subject,
				Text:           "auto",
				FixedSubject:   true,
			})
			require.NoError(t, err)
			sent := f.transport.Sent()
			assert.Equal(t, tc.want, sent[len(sent)-1].Subject)
		}
	})
}

func TestDispatchService_NewConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alias := f.team(t, "1", "Team One")

	f.transport.On("Send", mock.Anything).Return(nil).Once()
	res, err := f.dispatch.Send(ctx, domain.OutboundEmail{
		TeamID:    "1",
		ToAddress: "Ref <REF@league.test>",
		Subject:   "Frage",
		Text:      "Hallo",
	})
	require.NoError(t, err)

	convs, err := f.store.ListConversations(ctx, alias.ID)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, res.ConversationID, convs[0].ID)
	assert.Equal(t, "Frage", convs[0].Subject)
	assert.Equal(t, 0, convs[0].UnreadCount)
	assert.Equal(t, "ref@league.test", f.transport.Sent()[0].To)
	assert.Empty(t, f.transport.Sent()[0].InReplyTo)
}

func TestDispatchService_Failures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alias := f.team(t, "1", "Team One")

	t.Run("传输失败不落库", func(t *testing.T) {
		f.transport.On("Send", mock.Anything).Return(domain.Errorf(domain.ErrTransport, "relay down")).Once()
		_, err := f.dispatch.Send(ctx, domain.OutboundEmail{TeamID: "1", ToAddress: "ref@league.test", Text: "x"})
		assert.ErrorIs(t, err, domain.ErrTransport)

		convs, err := f.store.ListConversations(ctx, alias.ID)
		require.NoError(t, err)
		assert.Empty(t, convs)
	})

	t.Run("缺少正文", func(t *testing.T) {
		_, err := f.dispatch.Send(ctx, domain.OutboundEmail{TeamID: "1", ToAddress: "ref@league.test"})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("非法收件人", func(t *testing.T) {
		_, err := f.dispatch.Send(ctx, domain.OutboundEmail{TeamID: "1", ToAddress: "not-an-address", Text: "x"})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("未知队伍", func(t *testing.T) {
		_, err := f.dispatch.Send(ctx, domain.OutboundEmail{TeamID: "9", ToAddress: "ref@league.test", Text: "x"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("回复不存在的邮件", func(t *testing.T) {
		_, err := f.dispatch.Send(ctx, domain.OutboundEmail{TeamID: "1", InReplyTo: "<nope@x>", Text: "x"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("其他队伍的会话", func(t *testing.T) {
		f.team(t, "2", "Team Two")
		in, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("team-two@cup.test", "ref@league.test", "x", "y", "<t2@x>"))
		require.NoError(t, err)
		_, err = f.dispatch.Send(ctx, domain.OutboundEmail{TeamID: "1", ConversationID: in.ConversationID, Text: "x"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	f.transport.AssertExpectations(t)
}
