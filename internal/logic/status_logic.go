package logic

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/blues/collab/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// Resolution 争议处理结果
type Resolution string

const (
	ResolutionResume Resolution = "resume" // 驳回争议，协议恢复进行中
	ResolutionSettle Resolution = "settle" // 争议了结，协议完成
)

// Target 处理结果对应的协议状态
func (r Resolution) Target() (model.AgreementStatus, bool) {
	switch r {
	case ResolutionResume:
		return model.AgreementStatusActive, true
	case ResolutionSettle:
		return model.AgreementStatusCompleted, true
	}
	return "", false
}

// Activate 草稿协议转为进行中
func (l *AgreementLogic) Activate(ctx context.Context, id string, caller common.Address) error {
	return l.transition(ctx, "Activate", id, caller, model.AgreementStatusDraft, model.AgreementStatusActive)
}

// SubmitForReview 进行中的协议提交审核
func (l *AgreementLogic) SubmitForReview(ctx context.Context, id string, caller common.Address) error {
	return l.transition(ctx, "SubmitForReview", id, caller, model.AgreementStatusActive, model.AgreementStatusPendingReview)
}

func (l *AgreementLogic) transition(ctx context.Context, op, id string, caller common.Address, from, to model.AgreementStatus) error {
	return l.apply(ctx, op, id, func(a *model.AgreementModel, now time.Time) (*model.AuditEvent, error) {
		if err := requireStatus(a, from); err != nil {
			return nil, err
		}
		if err := requireAdmin(a, caller); err != nil {
			return nil, err
		}
		a.Status = to
		return &model.AuditEvent{
			Type:      model.EventStatusChanged,
			Principal: addrPtr(caller),
			Status:    to,
			Timestamp: now,
		}, nil
	})
}

// FileDispute 发起争议，争议期间冻结里程碑完成与付款
func (l *AgreementLogic) FileDispute(ctx context.Context, id string, caller common.Address, reason string) error {
	if utf8.RuneCountInString(reason) > model.MaxDescriptionLength {
		return fmt.Errorf("%w: dispute reason exceeds %d characters", ErrInvalidArgument, model.MaxDescriptionLength)
	}

	return l.apply(ctx, "FileDispute", id, func(a *model.AgreementModel, now time.Time) (*model.AuditEvent, error) {
		if err := requireStatus(a, model.AgreementStatusActive, model.AgreementStatusPendingReview); err != nil {
			return nil, err
		}
		if err := requireAdmin(a, caller); err != nil {
			return nil, err
		}

		a.Dispute = &model.DisputeRecord{
			FiledBy:     caller,
			Reason:      reason,
			FiledAt:     now,
			PriorStatus: a.Status,
		}
		a.Status = model.AgreementStatusDisputed
		return &model.AuditEvent{
			Type:      model.EventDisputeFiled,
			Principal: addrPtr(caller),
			Status:    a.Status,
			Timestamp: now,
		}, nil
	})
}

// ResolveDispute 处理争议或审核：resume 回到进行中，settle 完成协议
func (l *AgreementLogic) ResolveDispute(ctx context.Context, id string, caller common.Address, resolution Resolution, note string) error {
	target, ok := resolution.Target()
	if !ok {
		return fmt.Errorf("%w: unknown resolution %q", ErrInvalidArgument, resolution)
	}
	if utf8.RuneCountInString(note) > model.MaxDescriptionLength {
		return fmt.Errorf("%w: resolution note exceeds %d characters", ErrInvalidArgument, model.MaxDescriptionLength)
	}

	return l.apply(ctx, "ResolveDispute", id, func(a *model.AgreementModel, now time.Time) (*model.AuditEvent, error) {
		if err := requireAdmin(a, caller); err != nil {
			return nil, err
		}
		if err := requireStatus(a, model.AgreementStatusDisputed, model.AgreementStatusPendingReview); err != nil {
			return nil, err
		}

		// 审核中的协议没有未决争议记录
		if a.Status == model.AgreementStatusDisputed && a.Dispute != nil {
			a.Dispute.Resolution = string(resolution)
			a.Dispute.Note = note
			a.Dispute.ResolvedAt = &now
		}
		a.Status = target
		return &model.AuditEvent{
			Type:      model.EventDisputeResolved,
			Principal: addrPtr(caller),
			Status:    target,
			Timestamp: now,
		}, nil
	})
}

// ReclaimFunds 协议完成后取回金库剩余资金，destination 为空时转给调用者
func (l *AgreementLogic) ReclaimFunds(ctx context.Context, id string, caller, authority, destination common.Address) (uint64, error) {
	if destination == (common.Address{}) {
		destination = caller
	}

	var reclaimed uint64
	err := l.apply(ctx, "ReclaimFunds", id, func(a *model.AgreementModel, now time.Time) (*model.AuditEvent, error) {
		if err := requireStatus(a, model.AgreementStatusCompleted); err != nil {
			return nil, err
		}
		if err := requireAdmin(a, caller); err != nil {
			return nil, err
		}
		if a.VaultBalance == 0 {
			return nil, fmt.Errorf("%w: vault of agreement %s is empty", ErrInsufficientFunds, a.Id)
		}

		amount := a.VaultBalance
		if err := l.vault.Withdraw(ctx, a, amount, destination, authority); err != nil {
			return nil, err
		}
		a.TotalReclaimed += amount
		reclaimed = amount
		return &model.AuditEvent{
			Type:      model.EventFundsReclaimed,
			Amount:    amount,
			Principal: addrPtr(destination),
			Vault:     addrPtr(a.VaultAccount),
			Timestamp: now,
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return reclaimed, nil
}
