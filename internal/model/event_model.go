package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType 审计事件类型
type EventType string

const (
	EventAgreementCreated   EventType = "AgreementCreated"
	EventParticipantAdded   EventType = "ParticipantAdded"
	EventMilestoneAdded     EventType = "MilestoneAdded"
	EventRecipientUpdated   EventType = "RecipientUpdated"
	EventMilestoneCompleted EventType = "MilestoneCompleted"
	EventPaymentReleased    EventType = "PaymentReleased"
	EventVaultFunded        EventType = "VaultFunded"
	EventStatusChanged      EventType = "StatusChanged"
	EventDisputeFiled       EventType = "DisputeFiled"
	EventDisputeResolved    EventType = "DisputeResolved"
	EventFundsReclaimed     EventType = "FundsReclaimed"
)

// AuditEvent 状态变更审计事件，每次成功操作产生一条
type AuditEvent struct {
	Type           EventType       `json:"type"`
	AgreementId    string          `json:"agreement_id"`
	MilestoneIndex *int            `json:"milestone_index,omitempty"`
	Amount         uint64          `json:"amount,omitempty"`
	Principal      *common.Address `json:"principal,omitempty"` // 创建者/收款人/出资人/新成员
	Vault          *common.Address `json:"vault,omitempty"`
	Status         AgreementStatus `json:"status,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// EventModel 审计事件记录
type EventModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	AgreementId    string    `json:"agreement_id" gorm:"index;not null"`
	EventType      string    `json:"event_type" gorm:"not null"`
	MilestoneIndex *int      `json:"milestone_index"`
	Amount         uint64    `json:"amount"`
	Data           string    `json:"data" gorm:"type:text"`
	OccurredAt     time.Time `json:"occurred_at" gorm:"not null"`
}

// TableName 自定义表名
func (EventModel) TableName() string {
	return "event"
}
