package service

import (
	"context"

	"go.uber.org/zap"

	"tourney/backend/internal/domain"
	"tourney/backend/internal/storage"
)

// ConversationService 提供会话查询。读取会话即视为已读。
type ConversationService struct {
	store   storage.ConversationRepository
	aliases *AliasService
	log     *zap.Logger
}

// NewConversationService 创建会话服务
func NewConversationService(store storage.ConversationRepository, aliases *AliasService, log *zap.Logger) *ConversationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConversationService{store: store, aliases: aliases, log: log.Named("conversation")}
}

// List 按最后一封邮件时间倒序列出队伍的会话
func (s *ConversationService) List(ctx context.Context, teamID string) ([]domain.Conversation, error) {
	alias, err := s.aliases.GetByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	convs, err := s.store.ListConversations(ctx, alias.ID)
	if err != nil {
		return nil, domain.Persistence("list conversations", err)
	}
	return convs, nil
}

// Open 返回会话及其全部邮件，并把收到的邮件标记为已读。重复调用结果不变。
func (s *ConversationService) Open(ctx context.Context, conversationID string) (*domain.ConversationThread, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, domain.Persistence("get conversation", err)
	}
	if err := s.store.MarkConversationRead(ctx, conversationID); err != nil {
		return nil, domain.Persistence("mark read", err)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, domain.Persistence("get conversation", err)
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, domain.Persistence("list messages", err)
	}
	return &domain.ConversationThread{Conversation: conv, Messages: msgs}, nil
}

// TeamOf 返回会话所属队伍，用于接口层的访问控制
func (s *ConversationService) TeamOf(ctx context.Context, conversationID string) (string, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", domain.Persistence("get conversation", err)
	}
	alias, err := s.aliases.Get(ctx, conv.MailboxAliasID)
	if err != nil {
		return "", err
	}
	return alias.TeamID, nil
}
