package handler

import (
	"time"

	"github.com/blues/collab/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"` // 失败时的错误码
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 协议相关请求模型

// CreateAgreementRequest 创建协议请求
type CreateAgreementRequest struct {
	Id          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	FundingGoal uint64          `json:"funding_goal"`
	IPTerms     *IPTermsRequest `json:"ip_terms"`
	Draft       bool            `json:"draft"`
}

// IPTermsRequest 知识产权条款
type IPTermsRequest struct {
	OwnershipSplit []OwnershipShareRequest `json:"ownership_split"`
	LicenseType    string                  `json:"license_type"`
	Commercial     bool                    `json:"commercial_rights"`
}

type OwnershipShareRequest struct {
	Address    common.Address `json:"address"`
	Percentage uint8          `json:"percentage"`
}

func (r *IPTermsRequest) toModel() *model.IPTerms {
	if r == nil {
		return nil
	}
	terms := &model.IPTerms{
		LicenseType:      r.LicenseType,
		CommercialRights: r.Commercial,
	}
	for _, s := range r.OwnershipSplit {
		terms.OwnershipSplit = append(terms.OwnershipSplit, model.OwnershipShare{Address: s.Address, Percentage: s.Percentage})
	}
	return terms
}

// AddParticipantRequest 添加成员请求
type AddParticipantRequest struct {
	Address common.Address `json:"address"`
	IsAdmin bool           `json:"is_admin"`
}

// AddMilestoneRequest 添加里程碑请求
type AddMilestoneRequest struct {
	Description string    `json:"description"`
	DueDate     time.Time `json:"due_date"`
	Amount      uint64    `json:"amount"`
}

// SetRecipientRequest 修改收款人请求
type SetRecipientRequest struct {
	Recipient common.Address `json:"recipient"`
}

// FundVaultRequest 出资请求
type FundVaultRequest struct {
	Amount uint64 `json:"amount"`
}

// FileDisputeRequest 发起争议请求
type FileDisputeRequest struct {
	Reason string `json:"reason"`
}

// ResolveDisputeRequest 处理争议请求
type ResolveDisputeRequest struct {
	Resolution string `json:"resolution"` // resume 或 settle
	Note       string `json:"note"`
}

// ReclaimFundsRequest 取回剩余资金请求
type ReclaimFundsRequest struct {
	Destination common.Address `json:"destination"` // 为空时转给调用者
}

// 响应模型

// AddMilestoneResponse 添加里程碑响应
type AddMilestoneResponse struct {
	Index int `json:"index"`
}

// VaultResponse 金库状态
type VaultResponse struct {
	AgreementId    string         `json:"agreement_id"`
	VaultAccount   common.Address `json:"vault_account"`
	Balance        uint64         `json:"balance"`
	FundsRaised    uint64         `json:"funds_raised"`
	TotalReleased  uint64         `json:"total_released"`
	TotalReclaimed uint64         `json:"total_reclaimed"`
	FundingGoal    uint64         `json:"funding_goal"`
}

// ReclaimFundsResponse 取回金额
type ReclaimFundsResponse struct {
	Amount uint64 `json:"amount"`
}
