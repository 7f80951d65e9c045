package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"docscribe/internal/model"
)

type ChatSessionRepository struct {
	db *gorm.DB
}

func NewChatSessionRepository(db *gorm.DB) *ChatSessionRepository {
	return &ChatSessionRepository{db: db}
}

func (r *ChatSessionRepository) Create(session *model.ChatSession) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create chat session failed: %w", err)
	}
	return nil
}

// GetByID fetches a session regardless of owner. Callers compare UserID
// themselves so missing and foreign sessions can be told apart.
func (r *ChatSessionRepository) GetByID(id uint) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := r.db.First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat session failed: %w", err)
	}
	return &session, nil
}

func (r *ChatSessionRepository) ListByUserID(userID uint) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	if err := r.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list chat sessions failed: %w", err)
	}
	return sessions, nil
}

// AppendExchange stores one user/assistant turn pair and bumps the session's
// activity time in a single transaction. A non-empty title also renames the
// session. Nothing is written if any step fails.
func (r *ChatSessionRepository) AppendExchange(sessionID uint, userMsg, assistantMsg *model.ChatMessage, title string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(userMsg).Error; err != nil {
			return err
		}
		if err := tx.Create(assistantMsg).Error; err != nil {
			return err
		}
		updates := map[string]any{"updated_at": time.Now()}
		if title != "" {
			updates["title"] = title
		}
		return tx.Model(&model.ChatSession{}).Where("id = ?", sessionID).Updates(updates).Error
	})
	if err != nil {
		return fmt.Errorf("append chat exchange failed: %w", err)
	}
	return nil
}
