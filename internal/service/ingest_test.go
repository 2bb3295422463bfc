package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourney/backend/internal/domain"
	"tourney/backend/internal/storage"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.MailEvent
}

func (r *recordingNotifier) NotifyNewMail(_ context.Context, e domain.MailEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type memArchive struct {
	mu       sync.Mutex
	raw      map[string][]byte
	payloads int
}

func (a *memArchive) SaveRaw(aliasID, messageID string, raw []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.raw == nil {
		a.raw = map[string][]byte{}
	}
	a.raw[aliasID+"/"+messageID] = raw
	return aliasID + "/" + messageID, nil
}

func (a *memArchive) SaveWebhookPayload(string, []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payloads++
	return "payload", nil
}

func TestIngestService_NewConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alias := f.team(t, "1", "Team One")
	notifier := &recordingNotifier{}
	archive := &memArchive{}
	f.ingest.SetNotifier(notifier)
	f.ingest.SetArchiver(archive)

	email := inbound("Team One <team-one@cup.test>", "Coach Ref <ref@league.test>", "Anstoß", "Hallo", "<m1@league.test>")
	email.Raw = "Subject: Anstoß\r\n\r\nHallo\r\n"

	res, err := f.ingest.Ingest(ctx, SourceSMTP, email)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Duplicate)

	msgs, err := f.store.ListMessages(ctx, res.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, domain.DirectionIncoming, msg.Direction)
	assert.False(t, msg.Read)
	assert.Equal(t, "ref@league.test", msg.FromAddress)
	assert.Equal(t, alias.EmailAddress, msg.ToAddress)
	assert.Equal(t, "<m1@league.test>", msg.ExternalMessageID)

	conv, err := f.store.GetConversation(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Anstoß", conv.Subject)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.True(t, conv.LastMessageAt.Equal(msg.CreatedAt))

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "1", notifier.events[0].TeamID)
	assert.Contains(t, archive.raw, alias.ID+"/"+msg.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MessagesIngested.WithLabelValues(SourceSMTP)))
}

func TestIngestService_Threading(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "Team One")
	f.team(t, "2", "Team Two")

	first, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("team-one@cup.test", "ref@league.test", "Plan", "a", "<p1@league.test>"))
	require.NoError(t, err)

	t.Run("In-Reply-To 命中则追加", func(t *testing.T) {
		reply := inbound("team-one@cup.test", "ref@league.test", "Re: Plan", "b", "<p2@league.test>")
		reply.InReplyTo = "<p1@league.test>"
		res, err := f.ingest.Ingest(ctx, SourceSMTP, reply)
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, first.ConversationID, res.ConversationID)

		conv, err := f.store.GetConversation(ctx, first.ConversationID)
		require.NoError(t, err)
		assert.Equal(t, 2, conv.UnreadCount)
	})

	t.Run("References 兜底", func(t *testing.T) {
		reply := inbound("team-one@cup.test", "ref@league.test", "Re: Plan", "c", "<p3@league.test>")
		reply.Headers["references"] = "<unknown@x> <p2@league.test>"
		res, err := f.ingest.Ingest(ctx, SourceSMTP, reply)
		require.NoError(t, err)
		assert.Equal(t, first.ConversationID, res.ConversationID)
	})

	t.Run("其他队伍的邮件不参与归并", func(t *testing.T) {
		reply := inbound("team-two@cup.test", "ref@league.test", "Re: Plan", "d", "<p4@league.test>")
		reply.InReplyTo = "<p1@league.test>"
		res, err := f.ingest.Ingest(ctx, SourceSMTP, reply)
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.NotEqual(t, first.ConversationID, res.ConversationID)
	})

	t.Run("未命中则新建", func(t *testing.T) {
		reply := inbound("team-one@cup.test", "ref@league.test", "", "e", "<p5@league.test>")
		reply.InReplyTo = "<nowhere@league.test>"
		res, err := f.ingest.Ingest(ctx, SourceSMTP, reply)
		require.NoError(t, err)
		assert.True(t, res.Created)

		conv, err := f.store.GetConversation(ctx, res.ConversationID)
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultSubject, conv.Subject)
	})

	msgs, err := f.store.ListMessages(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestIngestService_Duplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "Team One")

	email := inbound("team-one@cup.test", "ref@league.test", "Plan", "a", "<dup@league.test>")
	first, err := f.ingest.Ingest(ctx, SourceWebhook, email)
	require.NoError(t, err)

	again, err := f.ingest.Ingest(ctx, SourceSMTP, email)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.ConversationID, again.ConversationID)
	assert.Equal(t, first.MessageID, again.MessageID)

	msgs, err := f.store.ListMessages(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DuplicatesTotal))
}

// missedLookupStore 让前几次按外部 ID 的查找落空，模拟并发投递都没查到对方
type missedLookupStore struct {
	storage.ConversationRepository
	mu     sync.Mutex
	misses int
}

func (m *missedLookupStore) FindMessageByExternalID(ctx context.Context, aliasID, externalID string) (*domain.Message, error) {
	m.mu.Lock()
	if m.misses > 0 {
		m.misses--
		m.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	m.mu.Unlock()
	return m.ConversationRepository.FindMessageByExternalID(ctx, aliasID, externalID)
}

func TestIngestService_DuplicateCaughtByStorage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "Team One")

	first, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("team-one@cup.test", "ref@league.test", "Plan", "a", "<race@league.test>"))
	require.NoError(t, err)

	store := &missedLookupStore{ConversationRepository: f.store, misses: 1}
	ingest := NewIngestService(store, f.aliases, f.metrics, nil)
	again, err := ingest.Ingest(ctx, SourceWebhook, inbound("team-one@cup.test", "ref@league.test", "Plan", "a", "<race@league.test>"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.ConversationID, again.ConversationID)
	assert.Equal(t, first.MessageID, again.MessageID)

	convs, err := f.conversations.List(ctx, "1")
	require.NoError(t, err)
	assert.Len(t, convs, 1, "no second conversation for the same Message-ID")
}

func TestIngestService_SyntheticMessageID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "Team One")

	a, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("team-one@cup.test", "ref@league.test", "x", "same", ""))
	require.NoError(t, err)
	b, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("team-one@cup.test", "ref@league.test", "x", "same", ""))
	require.NoError(t, err)
	assert.False(t, b.Duplicate, "mails without Message-ID are never deduplicated")
	assert.NotEqual(t, a.ConversationID, b.ConversationID)

	msgs, err := f.store.ListMessages(ctx, a.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasSuffix(msgs[0].ExternalMessageID, "@cup.test>"))
}

func TestIngestService_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alias := f.team(t, "1", "Team One")

	_, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("", "ref@league.test", "x", "y", ""))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.ingest.Ingest(ctx, SourceSMTP, inbound("team-one@cup.test", "", "x", "y", ""))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.ingest.Ingest(ctx, SourceSMTP, inbound("ghost@cup.test", "ref@league.test", "x", "y", ""))
	assert.ErrorIs(t, err, domain.ErrUnknownRecipient)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.UnknownRecipients.WithLabelValues(SourceSMTP)))

	convs, err := f.store.ListConversations(ctx, alias.ID)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestIngestService_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "Team One")

	root, err := f.ingest.Ingest(ctx, SourceSMTP, inbound("team-one@cup.test", "ref@league.test", "Plan", "a", "<root@x>"))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reply := inbound("team-one@cup.test", "ref@league.test", "Re: Plan", "b", fmt.Sprintf("<r%d@x>", i))
			reply.InReplyTo = "<root@x>"
			_, err := f.ingest.Ingest(ctx, SourceSMTP, reply)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	conv, err := f.store.GetConversation(ctx, root.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, n+1, conv.UnreadCount)

	last, err := f.store.LastMessage(ctx, root.ConversationID)
	require.NoError(t, err)
	assert.True(t, conv.LastMessageAt.Equal(last.CreatedAt))
}
