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

// maxReferences 限制 References 头部携带的历史 Message-ID 数量
const maxReferences = 10

// DispatchService 外发邮件。传输成功后才写入 outgoing 邮件，失败时不留下任何记录。
type DispatchService struct {
	store     storage.ConversationRepository
	aliases   *AliasService
	transport MailTransport
	metrics   *monitoring.Metrics
	fromName  string
	notifier  Notifier
	log       *zap.Logger
	now       func() time.Time
}

// NewDispatchService 创建外发服务
func NewDispatchService(store storage.ConversationRepository, aliases *AliasService, transport MailTransport, metrics *monitoring.Metrics, log *zap.Logger) *DispatchService {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &DispatchService{
		store:     store,
		aliases:   aliases,
		transport: transport,
		metrics:   metrics,
		log:       log.Named("dispatch"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier 设置新邮件通知（可选）
func (s *DispatchService) SetNotifier(n Notifier) {
	s.notifier = n
}

// thread 是回复时从会话推导出的投递目标
type thread struct {
	conv       *domain.Conversation
	to         string
	subject    string
	inReplyTo  string
	references []string
}

// Send 以队伍别名的身份发送一封邮件。
//
// 指定 ConversationID 或 InReplyTo 时视为回复：收件人与主题取自会话最后一封邮件，
// 忽略调用方传入的值。
func (s *DispatchService) Send(ctx context.Context, req domain.OutboundEmail) (*domain.DispatchResult, error) {
	if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.HTML) == "" {
		return nil, domain.Errorf(domain.ErrValidation, "missing message body")
	}

	alias, err := s.aliases.GetByTeam(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}

	th, err := s.resolveThread(ctx, alias, req)
	if err != nil {
		return nil, err
	}

	var to, subject string
	if th != nil {
		to = th.to
		subject = ReplySubject(th.subject)
		if req.FixedSubject && strings.TrimSpace(req.Subject) != "" {
			subject = ReplySubject(req.Subject)
		}
	} else {
		to = domain.NormalizeAddress(req.ToAddress)
		subject = strings.TrimSpace(req.Subject)
		if subject == "" {
			subject = domain.DefaultSubject
		}
	}
	if !domain.ValidateEmail(to) {
		return nil, domain.Errorf(domain.ErrValidation, "invalid recipient %q", to)
	}

	externalID := "<" + uuid.NewString() + "@" + s.aliases.Domain() + ">"
	mail := &domain.OutgoingMail{
		From:      alias.EmailAddress,
		FromName:  alias.AliasLabel,
		To:        to,
		Subject:   subject,
		Text:      req.Text,
		HTML:      req.HTML,
		MessageID: externalID,
		Headers:   req.Headers,
	}
	if th != nil {
		mail.InReplyTo = th.inReplyTo
		mail.References = th.references
	}

	if err := s.transport.Send(ctx, mail); err != nil {
		s.metrics.Dispatched("failure")
		if !errors.Is(err, domain.ErrTransport) {
			err = domain.Errorf(domain.ErrTransport, "%v", err)
		}
		return nil, err
	}
	s.metrics.Dispatched("success")

	msg := &domain.Message{
		ID:                uuid.NewString(),
		MailboxAliasID:    alias.ID,
		ExternalMessageID: externalID,
		InReplyTo:         mail.InReplyTo,
		FromAddress:       alias.EmailAddress,
		ToAddress:         to,
		Subject:           subject,
		BodyText:          req.Text,
		BodyHTML:          req.HTML,
		Direction:         domain.DirectionOutgoing,
		Read:              true,
		CreatedAt:         s.now(),
	}

	if th != nil {
		msg.ConversationID = th.conv.ID
		err = s.store.AppendMessage(ctx, msg)
	} else {
		conv := &domain.Conversation{
			ID:             uuid.NewString(),
			MailboxAliasID: alias.ID,
			Subject:        subject,
		}
		msg.ConversationID = conv.ID
		err = s.store.CreateConversation(ctx, conv, msg)
	}
	if err != nil {
		// 邮件已经发出，只能记录
		s.log.Error("outbound mail sent but not stored",
			zap.String("team_id", alias.TeamID),
			zap.String("external_message_id", externalID),
			zap.Error(err),
		)
		return nil, domain.Persistence("store outgoing message", err)
	}

	s.log.Info("outbound mail sent",
		zap.String("team_id", alias.TeamID),
		zap.String("conversation_id", msg.ConversationID),
		zap.String("to", to),
	)
	if s.notifier != nil {
		s.notifier.NotifyNewMail(ctx, domain.MailEvent{
			TeamID:         alias.TeamID,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Direction:      msg.Direction,
			Subject:        subject,
			From:           alias.EmailAddress,
		})
	}

	return &domain.DispatchResult{
		MessageID:         msg.ID,
		ExternalMessageID: externalID,
		ConversationID:    msg.ConversationID,
	}, nil
}

// resolveThread 根据 ConversationID 或 InReplyTo 找到被回复的会话，二者都为空时返回 nil
func (s *DispatchService) resolveThread(ctx context.Context, alias *domain.MailboxAlias, req domain.OutboundEmail) (*thread, error) {
	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" && strings.TrimSpace(req.InReplyTo) != "" {
		parent, err := s.store.FindMessageByExternalID(ctx, alias.ID, strings.TrimSpace(req.InReplyTo))
		if err != nil {
			return nil, domain.Persistence("find replied message", err)
		}
		convID = parent.ConversationID
	}
	if convID == "" {
		return nil, nil
	}

	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, domain.Persistence("get conversation", err)
	}
	if conv.MailboxAliasID != alias.ID {
		return nil, domain.Errorf(domain.ErrNotFound, "conversation %s", convID)
	}

	last, err := s.store.LastMessage(ctx, convID)
	if err != nil {
		return nil, domain.Persistence("last message", err)
	}
	msgs, err := s.store.ListMessages(ctx, convID)
	if err != nil {
		return nil, domain.Persistence("list messages", err)
	}

	subject := last.Subject
	if strings.TrimSpace(subject) == "" {
		subject = conv.Subject
	}

	refs := make([]string, 0, maxReferences)
	start := 0
	if len(msgs) > maxReferences {
		start = len(msgs) - maxReferences
	}
	for _, m := range msgs[start:] {
		if m.ExternalMessageID != "" {
			refs = append(refs, m.ExternalMessageID)
		}
	}

	return &thread{
		conv:       conv,
		to:         last.Counterparty(),
		subject:    subject,
		inReplyTo:  last.ExternalMessageID,
		references: refs,
	}, nil
}

// ReplySubject 在主题前加 "Re: "，已有前缀（不区分大小写）时保持不变
func ReplySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = domain.DefaultSubject
	}
	if len(subject) >= 3 && strings.EqualFold(subject[:3], "re:") {
		return subject
	}
	return "Re: " + subject
}
