package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 1000
	MaxLicenseLength     = 100
	MaxParticipants      = 10
	MaxMilestones        = 10
)

// AgreementModel 协作协议
type AgreementModel struct {
	Id        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Creator     common.Address  `json:"creator" gorm:"type:bytea;not null"`
	Title       string          `json:"title" gorm:"not null"`
	Description string          `json:"description" gorm:"type:text"`
	Status      AgreementStatus `json:"status" gorm:"index;default:'active'"`

	// 成员与里程碑
	Participants []Participant `json:"participants" gorm:"serializer:json;type:jsonb"`
	Milestones   []Milestone   `json:"milestones" gorm:"serializer:json;type:jsonb"`
	IPTerms      *IPTerms      `json:"ip_terms,omitempty" gorm:"serializer:json;type:jsonb"`

	// 资金信息
	FundingGoal    uint64         `json:"funding_goal" gorm:"default:0"`
	FundsRaised    uint64         `json:"funds_raised" gorm:"default:0"`    // 累计存入金库
	TotalReleased  uint64         `json:"total_released" gorm:"default:0"`  // 累计释放
	TotalReclaimed uint64         `json:"total_reclaimed" gorm:"default:0"` // 结束后取回
	VaultAccount   common.Address `json:"vault_account" gorm:"type:bytea;not null"`
	VaultBalance   uint64         `json:"vault_balance" gorm:"default:0"`

	// 争议
	Dispute *DisputeRecord `json:"dispute,omitempty" gorm:"serializer:json;type:jsonb"`
}

// TableName 自定义表名
func (AgreementModel) TableName() string {
	return "agreement"
}

// Clone 深拷贝协议，修改副本不会影响原对象
func (a *AgreementModel) Clone() *AgreementModel {
	if a == nil {
		return nil
	}
	c := *a
	if a.Participants != nil {
		c.Participants = append([]Participant(nil), a.Participants...)
	}
	if a.Milestones != nil {
		c.Milestones = make([]Milestone, len(a.Milestones))
		for i, m := range a.Milestones {
			c.Milestones[i] = m.clone()
		}
	}
	if a.IPTerms != nil {
		terms := *a.IPTerms
		terms.OwnershipSplit = append([]OwnershipShare(nil), a.IPTerms.OwnershipSplit...)
		c.IPTerms = &terms
	}
	if a.Dispute != nil {
		d := *a.Dispute
		if a.Dispute.ResolvedAt != nil {
			t := *a.Dispute.ResolvedAt
			d.ResolvedAt = &t
		}
		c.Dispute = &d
	}
	return &c
}

// Participant 协议参与方
type Participant struct {
	Address common.Address `json:"address"`
	IsAdmin bool           `json:"is_admin"`
}

// Milestone 里程碑，IsPaid 为 true 时记录不可再修改
type Milestone struct {
	Description string         `json:"description"`
	DueDate     time.Time      `json:"due_date"`
	Amount      uint64         `json:"amount"`
	IsCompleted bool           `json:"is_completed"`
	IsPaid      bool           `json:"is_paid"`
	Recipient   common.Address `json:"recipient"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	PaidAt      *time.Time     `json:"paid_at,omitempty"`
}

func (m Milestone) clone() Milestone {
	c := m
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		c.CompletedAt = &t
	}
	if m.PaidAt != nil {
		t := *m.PaidAt
		c.PaidAt = &t
	}
	return c
}

// IsOverdue 截止时间已过且尚未完成
func (m Milestone) IsOverdue(now time.Time) bool {
	return !m.IsCompleted && !m.DueDate.IsZero() && now.After(m.DueDate)
}

// OwnershipShare 知识产权份额
type OwnershipShare struct {
	Address    common.Address `json:"address"`
	Percentage uint8          `json:"percentage"`
}

// IPTerms 知识产权条款
type IPTerms struct {
	OwnershipSplit   []OwnershipShare `json:"ownership_split"`
	LicenseType      string           `json:"license_type"`
	CommercialRights bool             `json:"commercial_rights"`
}

// DisputeRecord 争议记录
type DisputeRecord struct {
	FiledBy     common.Address  `json:"filed_by"`
	Reason      string          `json:"reason"`
	FiledAt     time.Time       `json:"filed_at"`
	PriorStatus AgreementStatus `json:"prior_status"`
	Resolution  string          `json:"resolution,omitempty"`
	Note        string          `json:"note,omitempty"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// AgreementStatus 协议状态
type AgreementStatus string

const (
	AgreementStatusDraft         AgreementStatus = "draft"          // 草稿
	AgreementStatusActive        AgreementStatus = "active"         // 进行中
	AgreementStatusPendingReview AgreementStatus = "pending_review" // 待审核
	AgreementStatusCompleted     AgreementStatus = "completed"      // 已完成
	AgreementStatusDisputed      AgreementStatus = "disputed"       // 争议中
)
