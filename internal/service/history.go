package service

import (
	"context"
	"strconv"
	"strings"

	"msg-gateway/internal/model"
	"msg-gateway/internal/repository"
)

// DefaultHistoryLimit 未指定或无效时的返回条数
const DefaultHistoryLimit = 50

// HistoryQuery 历史查询条件
type HistoryQuery struct {
	Platform  string
	Direction string
	Limit     int
}

// MessageLister 历史查询依赖的存储
type MessageLister interface {
	List(ctx context.Context, filter repository.MessageFilter) ([]*model.Message, error)
	GetByID(ctx context.Context, id uint) (*model.Message, error)
}

// HistoryService 消息历史查询
type HistoryService struct {
	store MessageLister
}

// NewHistoryService 创建HistoryService实例
func NewHistoryService(store MessageLister) *HistoryService {
	return &HistoryService{store: store}
}

// List 按条件查询，最新的在前
// 渠道按原值过滤，方向仅识别 inbound/outbound，条数<=0时取默认值
func (s *HistoryService) List(ctx context.Context, q HistoryQuery) ([]*model.Message, error) {
	filter := repository.MessageFilter{
		Platform: strings.TrimSpace(q.Platform),
		Limit:    q.Limit,
	}
	switch model.Direction(q.Direction) {
	case model.DirectionInbound, model.DirectionOutbound:
		filter.Direction = q.Direction
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultHistoryLimit
	}

	messages, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []*model.Message{}
	}
	return messages, nil
}

// Get 按ID查询单条消息，不存在时返回 repository.ErrMessageNotFound
func (s *HistoryService) Get(ctx context.Context, id uint) (*model.Message, error) {
	return s.store.GetByID(ctx, id)
}

// ParseLimit 解析limit参数，无效值返回0
func ParseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
