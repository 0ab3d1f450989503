package logic

import (
	"context"
	"fmt"
	"math"

	"github.com/blues/collab/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Transferer 账户间资金划转原语，由宿主环境提供
type Transferer interface {
	Transfer(ctx context.Context, from, to common.Address, amount uint64, authority common.Address) error
}

// AccountOpener 支持开户的划转实现，创建协议时为金库开户
type AccountOpener interface {
	OpenAccount(ctx context.Context, account, owner common.Address) error
}

// DeriveVaultAccount 由协议ID派生金库账户地址
func DeriveVaultAccount(agreementId string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("vault"), []byte(agreementId)))
}

// EscrowVault 协议的托管资金池
//
// 金库不记录资金属于哪个里程碑，只保证余额不为负。
type EscrowVault struct {
	transferer Transferer
}

// NewEscrowVault 创建托管金库
func NewEscrowVault(transferer Transferer) *EscrowVault {
	return &EscrowVault{transferer: transferer}
}

// Deposit 从 source 转入金库
func (v *EscrowVault) Deposit(ctx context.Context, agreement *model.AgreementModel, source, authority common.Address, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: deposit amount must be positive", ErrInvalidArgument)
	}
	if agreement.FundsRaised > math.MaxUint64-amount {
		return fmt.Errorf("%w: deposit overflows vault balance", ErrInvalidArgument)
	}

	if err := v.transferer.Transfer(ctx, source, agreement.VaultAccount, amount, authority); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	agreement.VaultBalance += amount
	agreement.FundsRaised += amount
	return nil
}

// Withdraw 从金库转给 recipient，余额不足时不发起转账
func (v *EscrowVault) Withdraw(ctx context.Context, agreement *model.AgreementModel, amount uint64, recipient, authority common.Address) error {
	if agreement.VaultBalance < amount {
		return fmt.Errorf("%w: vault holds %d, need %d", ErrInsufficientFunds, agreement.VaultBalance, amount)
	}

	if err := v.transferer.Transfer(ctx, agreement.VaultAccount, recipient, amount, authority); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	agreement.VaultBalance -= amount
	return nil
}

// VaultViolations 检查协议的金库记账是否自洽，返回违反的规则
func VaultViolations(agreement *model.AgreementModel) []string {
	var violations []string

	outflow := agreement.TotalReleased + agreement.TotalReclaimed
	if agreement.VaultBalance+outflow != agreement.FundsRaised {
		violations = append(violations, "balance_mismatch")
	}
	if LedgerOf(agreement).PaidTotal() != agreement.TotalReleased {
		violations = append(violations, "released_mismatch")
	}
	for _, m := range agreement.Milestones {
		if m.IsPaid && !m.IsCompleted {
			violations = append(violations, "paid_not_completed")
			break
		}
	}
	return violations
}
