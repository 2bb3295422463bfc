package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tourney/backend/internal/domain"
)

// MockWebhookLogs 模拟审计日志仓储
type MockWebhookLogs struct {
	mock.Mock
}

func (m *MockWebhookLogs) AppendWebhookLog(ctx context.Context, entry *domain.WebhookLog) error {
	return m.Called(entry).Error(0)
}

func (m *MockWebhookLogs) ListWebhookLogs(ctx context.Context, limit int) ([]domain.WebhookLog, error) {
	args := m.Called(limit)
	return args.Get(0).([]domain.WebhookLog), args.Error(1)
}

type panickingIngester struct{}

func (panickingIngester) Ingest(context.Context, string, *domain.InboundEmail) (*domain.IngestResult, error) {
	panic("boom")
}

func TestWebhookService_HandleInbound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alias := f.team(t, "1", "Team One")
	svc := NewWebhookService(f.ingest, f.store, "", f.metrics, zap.NewNop())
	archive := &memArchive{}
	svc.SetArchiver(archive)

	t.Run("成功", func(t *testing.T) {
		body := []byte(`{"To":"Team One <team-one@cup.test>","From":"ref@league.test","Subject":"Hi","TextBody":"Hello","MessageID":"<w1@x>"}`)
		res, err := svc.HandleInbound(ctx, "postmark", body)
		require.NoError(t, err)
		assert.True(t, res.Created)

		logs, err := svc.ListLogs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.True(t, logs[0].Success)
		assert.Equal(t, "postmark", logs[0].Provider)
		assert.Equal(t, domain.WebhookInbound, logs[0].Direction)
		assert.Equal(t, string(body), logs[0].Payload)
	})

	t.Run("未知收件人", func(t *testing.T) {
		body := []byte(`{"To":"ghost@cup.test","From":"ref@league.test","Subject":"Hi","TextBody":"Hello"}`)
		_, err := svc.HandleInbound(ctx, "postmark", body)
		assert.ErrorIs(t, err, domain.ErrUnknownRecipient)

		logs, err := svc.ListLogs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.False(t, logs[0].Success)
		assert.NotEmpty(t, logs[0].Error)

		convs, err := f.store.ListConversations(ctx, alias.ID)
		require.NoError(t, err)
		assert.Len(t, convs, 1, "no conversation created for unknown recipient")
	})

	t.Run("非法 JSON", func(t *testing.T) {
		_, err := svc.HandleInbound(ctx, "postmark", []byte(`{not json`))
		assert.ErrorIs(t, err, domain.ErrValidation)

		logs, err := svc.ListLogs(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, logs, 3)
		assert.False(t, logs[0].Success)
	})

	assert.Equal(t, 3, archive.payloads)
}

func TestWebhookService_AuditFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.team(t, "1", "Team One")

	logs := &MockWebhookLogs{}
	logs.On("AppendWebhookLog", mock.Anything).Return(errors.New("db locked")).Once()
	logs.On("AppendWebhookLog", mock.MatchedBy(func(e *domain.WebhookLog) bool { return e.Success })).Return(nil).Once()

	svc := NewWebhookService(f.ingest, logs, "", f.metrics, nil)
	res, err := svc.HandleInbound(ctx, "postmark", []byte(`{"To":"team-one@cup.test","From":"ref@league.test","TextBody":"x"}`))
	require.NoError(t, err)
	assert.True(t, res.Created)
	logs.AssertExpectations(t)
}

func TestWebhookService_PanicIsAudited(t *testing.T) {
	logs := &MockWebhookLogs{}
	logs.On("AppendWebhookLog", mock.MatchedBy(func(e *domain.WebhookLog) bool {
		return !e.Success && e.Error != ""
	})).Return(nil).Once()

	svc := NewWebhookService(panickingIngester{}, logs, "", nil, nil)
	res, err := svc.HandleInbound(context.Background(), "postmark", []byte(`{"To":"a@b.test","From":"c@d.test"}`))
	assert.Nil(t, res)
	assert.Error(t, err)
	logs.AssertExpectations(t)
}

func TestWebhookService_VerifyToken(t *testing.T) {
	open := NewWebhookService(nil, nil, "", nil, nil)
	assert.True(t, open.VerifyToken(""))

	guarded := NewWebhookService(nil, nil, "s3cret", nil, nil)
	assert.True(t, guarded.VerifyToken("s3cret"))
	assert.False(t, guarded.VerifyToken("wrong"))
	assert.False(t, guarded.VerifyToken(""))
}
