package service

import (
	"context"
	"fmt"
	"time"

	"relaychat/internal/models"

	"gorm.io/gorm"
)

// MessageService 是消息的持久化存储：先落库，再由 ws 层转发。
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// MessageDTO 是对外输出的消息数据，实时推送与历史查询共用同一结构。
type MessageDTO struct {
	ID              uint      `json:"id"`
	SenderUserID    string    `json:"senderUserId"`
	RecipientUserID string    `json:"recipientUserId"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toDTO(m models.Message) MessageDTO {
	return MessageDTO{
		ID:              m.ID,
		SenderUserID:    m.SenderUserID,
		RecipientUserID: m.RecipientUserID,
		Text:            m.Text,
		CreatedAt:       m.CreatedAt,
	}
}

// Append 写入一条消息，返回数据库分配的 id 与创建时间。
func (s *MessageService) Append(ctx context.Context, senderUserID, recipientUserID, text string) (MessageDTO, error) {
	if senderUserID == "" || recipientUserID == "" || text == "" {
		return MessageDTO{}, ErrInvalidParams
	}
	msg := models.Message{SenderUserID: senderUserID, RecipientUserID: recipientUserID, Text: text}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return MessageDTO{}, fmt.Errorf("append message: %w", err)
	}
	return toDTO(msg), nil
}

// QueryHistory 返回两个用户之间的全部消息，按创建时间升序。
func (s *MessageService) QueryHistory(ctx context.Context, userA, userB string) ([]MessageDTO, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("sender_user_id IN ? AND recipient_user_id IN ?", []string{userA, userB}, []string{userA, userB}).
		Order("created_at asc").
		Order("id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toDTO(m))
	}
	return out, nil
}
