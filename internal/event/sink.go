package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/blues/collab/internal/logger"
	"github.com/blues/collab/internal/model"
	"gorm.io/gorm"
)

// Sink 审计事件出口
type Sink interface {
	Emit(ctx context.Context, evt model.AuditEvent) error
}

// RoutingKey 事件在消息队列中的路由键，例如 agreement.paymentreleased
func RoutingKey(t model.EventType) string {
	return "agreement." + strings.ToLower(string(t))
}

// MemorySink 保存在内存中的事件，按发出顺序排列
type MemorySink struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Emit(_ context.Context, evt model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

// Events 返回事件副本
func (s *MemorySink) Events() []model.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditEvent(nil), s.events...)
}

// LogSink 把事件写入日志
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Emit(_ context.Context, evt model.AuditEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	logger.Info("Audit event %s: %s", evt.Type, data)
	return nil
}

// GormSink 把事件追加到 event 表
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

func (s *GormSink) Name() string { return "database" }

func (s *GormSink) Emit(ctx context.Context, evt model.AuditEvent) error {
	record, err := ToEventModel(evt)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// ToEventModel 转换为数据库记录，完整事件保存在 Data 中
func ToEventModel(evt model.AuditEvent) (*model.EventModel, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &model.EventModel{
		AgreementId:    evt.AgreementId,
		EventType:      string(evt.Type),
		MilestoneIndex: evt.MilestoneIndex,
		Amount:         evt.Amount,
		Data:           string(data),
		OccurredAt:     evt.Timestamp,
	}, nil
}
