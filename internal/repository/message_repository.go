package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"msg-gateway/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrMessageNotFound 按ID或服务商消息ID未找到记录
	ErrMessageNotFound = errors.New("message not found")
	// ErrDuplicateMessage 同一渠道下服务商消息ID重复
	ErrDuplicateMessage = errors.New("duplicate message sid")
)

// MessageFilter 历史查询条件，空字段表示不过滤
type MessageFilter struct {
	Platform  string
	Direction string
	Limit     int
}

// MessageRepository 消息数据仓储
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建MessageRepository实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create 创建消息
func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateMessage, err)
		}
		return err
	}
	return nil
}

// GetByID 根据ID获取消息
func (r *MessageRepository) GetByID(ctx context.Context, id uint) (*model.Message, error) {
	var message model.Message
	err := r.db.WithContext(ctx).First(&message, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

// UpdateBySID 在事务中锁定sid对应的记录并交给mutate修改，mutate返回false时不写回
func (r *MessageRepository) UpdateBySID(ctx context.Context, sid string, mutate func(m *model.Message) bool) (*model.Message, error) {
	var updated *model.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message model.Message
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("message_sid = ?", sid).
			Order("id ASC").
			First(&message).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return err
		}

		if mutate(&message) {
			if err := tx.Save(&message).Error; err != nil {
				return err
			}
		}
		updated = &message
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List 按条件查询消息，最新的在前
func (r *MessageRepository) List(ctx context.Context, filter MessageFilter) ([]*model.Message, error) {
	var messages []*model.Message

	query := r.db.WithContext(ctx).Model(&model.Message{})
	if filter.Platform != "" {
		query = query.Where("platform = ?", filter.Platform)
	}
	if filter.Direction != "" {
		query = query.Where("direction = ?", filter.Direction)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	err := query.Order("created_at DESC").Order("id DESC").Find(&messages).Error
	return messages, err
}

// isDuplicateKey 兼容未开启TranslateError的驱动
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}
