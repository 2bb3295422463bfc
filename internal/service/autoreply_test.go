package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tourney/backend/internal/config"
	"tourney/backend/internal/domain"
	"tourney/backend/internal/pool"
)

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"senderName": "Anna", "teamName": "FC Nord", "empty": ""}

	tests := []struct {
		in   string
		want string
	}{
		{"Hallo {{senderName}}", "Hallo Anna"},
		{"{{ teamName }} grüßt {{senderName}}!", "FC Nord grüßt Anna!"},
		{"{{unknown}} bleibt", "{{unknown}} bleibt"},
		{"{{empty}}x", "x"},
		{"{single} {{", "{single} {{"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Substitute(tt.in, vars), tt.in)
	}
}

func newAutoReply(t *testing.T, f *fixture, workers *pool.WorkerPool) *AutoReplyService {
	t.Helper()
	require.NoError(t, f.store.SaveTemplate(context.Background(), &domain.Template{
		Key:      domain.TemplateAutoReply,
		Subject:  "Danke, {{senderName}}",
		BodyText: "{{teamName}} hat deine Nachricht zu \"{{originalSubject}}\" erhalten. {{tournamentName}}",
	}))
	cfg := config.AutoReplyConfig{Enabled: true, TournamentName: "Hallencup 2026"}
	return NewAutoReplyService(f.store, f.dispatch, f.aliases, workers, cfg, f.metrics, zap.NewNop())
}

func TestAutoReplyService_Reply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "FC Nord")
	auto := newAutoReply(t, f, nil)
	f.ingest.SetAutoReplier(auto)

	f.transport.On("Send", mock.Anything).Return(nil).Once()

	res, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("fc-nord@cup.test", "Anna Schmidt <anna@club.test>", "Anmeldung", "hi", "<a1@club.test>"))
	require.NoError(t, err)
	f.transport.AssertExpectations(t)

	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "anna@club.test", sent[0].To)
	assert.Equal(t, "Re: Danke, Anna Schmidt", sent[0].Subject)
	assert.Equal(t, "FC Nord hat deine Nachricht zu \"Anmeldung\" erhalten. Hallencup 2026", sent[0].Text)
	assert.Equal(t, "auto-replied", sent[0].Headers["Auto-Submitted"])
	assert.Equal(t, "<a1@club.test>", sent[0].InReplyTo)

	msgs, err := f.store.ListMessages(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "auto-reply threads into the same conversation")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AutoRepliesTotal.WithLabelValues("sent")))
}

func TestAutoReplyService_Suppressed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "FC Nord")
	f.team(t, "2", "FC Süd")
	f.ingest.SetAutoReplier(newAutoReply(t, f, nil))

	cases := map[string]*domain.InboundEmail{
		"auto-submitted": func() *domain.InboundEmail {
			e := inbound("fc-nord@cup.test", "bot@club.test", "x", "y", "<s1@x>")
			e.Headers["auto-submitted"] = "auto-replied"
			return e
		}(),
		"precedence": func() *domain.InboundEmail {
			e := inbound("fc-nord@cup.test", "list@club.test", "x", "y", "<s2@x>")
			e.Headers["precedence"] = "Bulk"
			return e
		}(),
		"own alias": inbound("fc-nord@cup.test", "fc-sued@cup.test", "x", "y", "<s3@x>"),
	}
	for name, email := range cases {
		_, err := f.ingest.Ingest(ctx, SourceSMTP, email)
		require.NoError(t, err, name)
	}

	f.transport.AssertNotCalled(t, "Send", mock.Anything)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.AutoRepliesTotal.WithLabelValues("suppressed")))
}

func TestAutoReplyService_NoTemplate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alias := f.team(t, "1", "FC Nord")
	auto := NewAutoReplyService(f.store, f.dispatch, f.aliases, nil, config.AutoReplyConfig{Enabled: true}, f.metrics, nil)

	msg := &domain.Message{ConversationID: "c1", FromAddress: "anna@club.test"}
	assert.NoError(t, auto.Reply(ctx, alias, msg, nil))
	f.transport.AssertNotCalled(t, "Send", mock.Anything)
}

func TestAutoReplyService_FailureDoesNotFailIngest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "FC Nord")

	workers := pool.NewWorkerPool(1, 4, zap.NewNop())
	workers.Start(ctx)
	t.Cleanup(workers.Stop)
	f.ingest.SetAutoReplier(newAutoReply(t, f, workers))

	done := make(chan struct{})
	f.transport.On("Send", mock.Anything).
		Return(domain.Errorf(domain.ErrTransport, "relay down")).
		Run(func(mock.Arguments) { close(done) }).
		Once()

	res, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("fc-nord@cup.test", "anna@club.test", "x", "y", "<f1@x>"))
	require.NoError(t, err)
	assert.True(t, res.Created)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-reply was not attempted")
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.AutoRepliesTotal.WithLabelValues("failure")) == 1
	}, time.Second, 10*time.Millisecond)

	msgs, err := f.store.ListMessages(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestAutoReplyService_Disabled(t *testing.T) {
	f := newFixture(t)
	alias := f.team(t, "1", "FC Nord")
	auto := NewAutoReplyService(f.store, f.dispatch, f.aliases, nil, config.AutoReplyConfig{}, f.metrics, nil)

	auto.Schedule(alias, &domain.Message{FromAddress: "anna@club.test"}, inbound("fc-nord@cup.test", "anna@club.test", "x", "y", ""))
	f.transport.AssertNotCalled(t, "Send", mock.Anything)
}
