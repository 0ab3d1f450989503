package logic

import (
	"fmt"
	"time"

	"github.com/blues/collab/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// MilestoneLedger 单个协议的里程碑序列
//
// 只做内存中的状态变更，事件与转账由 AgreementLogic 负责编排。
type MilestoneLedger struct {
	milestones *[]model.Milestone
}

// LedgerOf 返回协议的里程碑账本
func LedgerOf(agreement *model.AgreementModel) MilestoneLedger {
	return MilestoneLedger{milestones: &agreement.Milestones}
}

// Len 里程碑数量
func (l MilestoneLedger) Len() int {
	return len(*l.milestones)
}

// At 按下标获取里程碑
func (l MilestoneLedger) At(index int) (*model.Milestone, error) {
	if index < 0 || index >= len(*l.milestones) {
		return nil, fmt.Errorf("%w: %d (count %d)", ErrInvalidMilestoneIndex, index, len(*l.milestones))
	}
	return &(*l.milestones)[index], nil
}

// Append 追加里程碑，返回其下标
func (l MilestoneLedger) Append(m model.Milestone) (int, error) {
	if len(*l.milestones) >= model.MaxMilestones {
		return 0, fmt.Errorf("%w: at most %d milestones", ErrCapacityExceeded, model.MaxMilestones)
	}
	m.IsCompleted = false
	m.IsPaid = false
	m.CompletedAt = nil
	m.PaidAt = nil
	*l.milestones = append(*l.milestones, m)
	return len(*l.milestones) - 1, nil
}

// Complete 标记完成，重复调用不报错；返回状态是否发生变化
func (l MilestoneLedger) Complete(index int, at time.Time) (bool, error) {
	m, err := l.At(index)
	if err != nil {
		return false, err
	}
	if m.IsCompleted {
		return false, nil
	}
	m.IsCompleted = true
	m.CompletedAt = &at
	return true, nil
}

// Payable 校验里程碑已完成且未支付
func (l MilestoneLedger) Payable(index int) (*model.Milestone, error) {
	m, err := l.At(index)
	if err != nil {
		return nil, err
	}
	if !m.IsCompleted {
		return nil, fmt.Errorf("%w: milestone %d is not completed", ErrInvalidMilestoneStatus, index)
	}
	if m.IsPaid {
		return nil, fmt.Errorf("%w: milestone %d is already paid", ErrInvalidMilestoneStatus, index)
	}
	return m, nil
}

// MarkPaid 标记已支付，只允许一次
func (l MilestoneLedger) MarkPaid(index int, at time.Time) error {
	m, err := l.Payable(index)
	if err != nil {
		return err
	}
	m.IsPaid = true
	m.PaidAt = &at
	return nil
}

// SetRecipient 完成前可以重新指定收款人
func (l MilestoneLedger) SetRecipient(index int, recipient common.Address) error {
	m, err := l.At(index)
	if err != nil {
		return err
	}
	if m.IsCompleted {
		return fmt.Errorf("%w: milestone %d is already completed", ErrInvalidMilestoneStatus, index)
	}
	m.Recipient = recipient
	return nil
}

// PaidTotal 已支付里程碑金额合计
func (l MilestoneLedger) PaidTotal() uint64 {
	var total uint64
	for _, m := range *l.milestones {
		if m.IsPaid {
			total += m.Amount
		}
	}
	return total
}
