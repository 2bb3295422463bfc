package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tourney/backend/internal/domain"
	"tourney/backend/internal/monitoring"
	"tourney/backend/internal/storage"
)

// IngestService 是入站邮件的唯一入口：解析别名、归并会话、写入邮件。
// SMTP 监听器与 webhook 共用。
type IngestService struct {
	store     storage.ConversationRepository
	aliases   *AliasService
	metrics   *monitoring.Metrics
	log       *zap.Logger
	archive   Archiver
	notifier  Notifier
	autoReply AutoReplier
	now       func() time.Time
}

// NewIngestService 创建入库服务
func NewIngestService(store storage.ConversationRepository, aliases *AliasService, metrics *monitoring.Metrics, log *zap.Logger) *IngestService {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &IngestService{
		store:   store,
		aliases: aliases,
		metrics: metrics,
		log:     log.Named("ingest"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetArchiver 设置原文归档（可选）
func (s *IngestService) SetArchiver(a Archiver) {
	s.archive = a
}

// SetNotifier 设置新邮件通知（可选）
func (s *IngestService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetAutoReplier 设置自动回复（可选）
func (s *IngestService) SetAutoReplier(a AutoReplier) {
	s.autoReply = a
}

// Ingest 写入一封入站邮件。
//
// In-Reply-To（或 References）命中该别名下已有邮件时追加到对应会话，否则新建会话。
// 同一别名下 Message-ID 重复的投递不再写入，返回 Duplicate=true。
func (s *IngestService) Ingest(ctx context.Context, source string, email *domain.InboundEmail) (*domain.IngestResult, error) {
	start := time.Now()

	if err := email.Validate(); err != nil {
		return nil, err
	}

	alias, err := s.aliases.Resolve(ctx, email.To)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownRecipient) {
			s.metrics.UnknownRecipient(source)
			s.log.Info("inbound mail for unknown recipient", zap.String("source", source), zap.String("to", email.To))
		}
		return nil, err
	}

	externalID := strings.TrimSpace(email.MessageID)
	if externalID == "" {
		externalID = "<" + uuid.NewString() + "@" + s.aliases.Domain() + ">"
	}

	if existing, err := s.store.FindMessageByExternalID(ctx, alias.ID, externalID); err == nil {
		s.metrics.Duplicate()
		s.log.Info("duplicate inbound mail ignored",
			zap.String("external_message_id", externalID),
			zap.String("conversation_id", existing.ConversationID),
		)
		return &domain.IngestResult{
			ConversationID: existing.ConversationID,
			MessageID:      existing.ID,
			Duplicate:      true,
		}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Persistence("find message", err)
	}

	msg := &domain.Message{
		ID:                uuid.NewString(),
		MailboxAliasID:    alias.ID,
		ExternalMessageID: externalID,
		InReplyTo:         strings.TrimSpace(email.InReplyTo),
		FromAddress:       domain.NormalizeAddress(email.From),
		ToAddress:         alias.EmailAddress,
		Subject:           strings.TrimSpace(email.Subject),
		BodyText:          email.Text,
		BodyHTML:          email.HTML,
		Direction:         domain.DirectionIncoming,
		Read:              false,
		CreatedAt:         s.now(),
		RawPayload:        email.Raw,
	}

	result := &domain.IngestResult{MessageID: msg.ID}

	parent, err := s.findParent(ctx, alias.ID, email)
	if err != nil {
		return nil, err
	}

	if parent != nil {
		msg.ConversationID = parent.ConversationID
		if err := s.store.AppendMessage(ctx, msg); err != nil {
			return s.duplicateOr(ctx, alias.ID, externalID, err)
		}
	} else {
		subject := msg.Subject
		if subject == "" {
			subject = domain.DefaultSubject
		}
		conv := &domain.Conversation{
			ID:             uuid.NewString(),
			MailboxAliasID: alias.ID,
			Subject:        subject,
		}
		msg.ConversationID = conv.ID
		if err := s.store.CreateConversation(ctx, conv, msg); err != nil {
			return s.duplicateOr(ctx, alias.ID, externalID, err)
		}
		result.Created = true
	}
	result.ConversationID = msg.ConversationID

	s.metrics.Ingested(source, time.Since(start))
	s.log.Info("inbound mail stored",
		zap.String("source", source),
		zap.String("team_id", alias.TeamID),
		zap.String("conversation_id", msg.ConversationID),
		zap.Bool("new_conversation", result.Created),
	)

	s.archiveRaw(alias.ID, msg)
	if s.notifier != nil {
		s.notifier.NotifyNewMail(ctx, domain.MailEvent{
			TeamID:         alias.TeamID,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Direction:      msg.Direction,
			Subject:        msg.Subject,
			From:           msg.FromAddress,
		})
	}
	if s.autoReply != nil {
		s.autoReply.Schedule(alias, msg, email)
	}

	return result, nil
}

// findParent 依次用 In-Reply-To 与 References（从新到旧）查找被回复的邮件
func (s *IngestService) findParent(ctx context.Context, aliasID string, email *domain.InboundEmail) (*domain.Message, error) {
	candidates := make([]string, 0, 4)
	if id := strings.TrimSpace(email.InReplyTo); id != "" {
		candidates = append(candidates, id)
	}
	refs := strings.Fields(email.Header("references"))
	for i := len(refs) - 1; i >= 0; i-- {
		candidates = append(candidates, refs[i])
	}

	for _, id := range candidates {
		parent, err := s.store.FindMessageByExternalID(ctx, aliasID, id)
		if err == nil {
			return parent, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Persistence("find parent message", err)
		}
	}
	return nil, nil
}

// duplicateOr 把存储层唯一约束冲突转换为重复投递结果
func (s *IngestService) duplicateOr(ctx context.Context, aliasID, externalID string, err error) (*domain.IngestResult, error) {
	if !errors.Is(err, domain.ErrDuplicateMessage) {
		return nil, domain.Persistence("store message", err)
	}
	s.metrics.Duplicate()
	existing, findErr := s.store.FindMessageByExternalID(ctx, aliasID, externalID)
	if findErr != nil {
		return nil, domain.Persistence("find duplicate", findErr)
	}
	return &domain.IngestResult{
		ConversationID: existing.ConversationID,
		MessageID:      existing.ID,
		Duplicate:      true,
	}, nil
}

func (s *IngestService) archiveRaw(aliasID string, msg *domain.Message) {
	if s.archive == nil || msg.RawPayload == "" {
		return
	}
	if _, err := s.archive.SaveRaw(aliasID, msg.ID, []byte(msg.RawPayload)); err != nil {
		s.log.Warn("archive raw message failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}
