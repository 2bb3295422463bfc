package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tourney/backend/internal/domain"
	"tourney/backend/internal/monitoring"
	sqlstore "tourney/backend/internal/storage/sql"
	"tourney/backend/internal/storage/sql/sqltest"
)

const testDomain = "cup.test"

// MockTransport 模拟外发传输层
type MockTransport struct {
	mock.Mock
	mu   sync.Mutex
	sent []domain.OutgoingMail
}

func (m *MockTransport) Send(ctx context.Context, mail *domain.OutgoingMail) error {
	args := m.Called(mail)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.sent = append(m.sent, *mail)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *MockTransport) Sent() []domain.OutgoingMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutgoingMail(nil), m.sent...)
}

type fixture struct {
	store         *sqlstore.Store
	metrics       *monitoring.Metrics
	aliases       *AliasService
	ingest        *IngestService
	conversations *ConversationService
	transport     *MockTransport
	dispatch      *DispatchService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := sqltest.NewStore(t)
	metrics := monitoring.NewMetrics()
	log := zap.NewNop()

	aliases := NewAliasService(store, testDomain, log)
	transport := &MockTransport{}
	return &fixture{
		store:         store,
		metrics:       metrics,
		aliases:       aliases,
		ingest:        NewIngestService(store, aliases, metrics, log),
		conversations: NewConversationService(store, aliases, log),
		transport:     transport,
		dispatch:      NewDispatchService(store, aliases, transport, metrics, log),
	}
}

func (f *fixture) team(t *testing.T, teamID, name string) *domain.MailboxAlias {
	t.Helper()
	alias, err := f.aliases.Ensure(context.Background(), teamID, name)
	require.NoError(t, err)
	return alias
}

func inbound(to, from, subject, body, messageID string) *domain.InboundEmail {
	return &domain.InboundEmail{
		To:        to,
		From:      from,
		Subject:   subject,
		Text:      body,
		MessageID: messageID,
		Headers:   map[string]string{},
	}
}
