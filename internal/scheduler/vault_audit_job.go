package scheduler

import (
	"context"
	"time"

	"github.com/blues/collab/internal/logger"
	"github.com/blues/collab/internal/logic"
	"github.com/blues/collab/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-co-op/gocron/v2"
)

// BalanceReader 读取账本中的实际余额，内存账本和链上代币都实现了它
type BalanceReader interface {
	BalanceOf(ctx context.Context, addr common.Address) (uint64, error)
}

// Violation 对账异常
type Violation struct {
	AgreementId string         // 账户级异常为空
	Account     common.Address // 协议级异常为空
	Kind        string
}

// VaultAuditJob 金库对账任务
//
// 检查每个协议的记账关系，并确认账本中每个金库账户的余额不少于
// 所有使用该账户的协议记录的余额之和。
type VaultAuditJob struct {
	agreements AgreementLister
	balances   BalanceReader
	interval   time.Duration
}

// NewVaultAuditJob balances 为 nil 时只检查协议内部记账
func NewVaultAuditJob(agreements AgreementLister, balances BalanceReader, interval time.Duration) *VaultAuditJob {
	return &VaultAuditJob{
		agreements: agreements,
		balances:   balances,
		interval:   interval,
	}
}

// GetName 获取任务名称
func (j *VaultAuditJob) GetName() string {
	return "vault_auditor"
}

// GetSchedule 获取调度配置
func (j *VaultAuditJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *VaultAuditJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	violations, err := j.Audit(ctx)
	if err != nil {
		logger.Error("Failed to audit vaults: %v", err)
		return
	}

	for _, v := range violations {
		metrics.IncrementAuditViolation(v.Kind)
		if v.AgreementId != "" {
			logger.Error("Vault audit: agreement %s violates %s", v.AgreementId, v.Kind)
		} else {
			logger.Error("Vault audit: account %s violates %s", v.Account.Hex(), v.Kind)
		}
	}
	logger.Info("Vault audit completed. Found %d violations", len(violations))
}

// Audit 执行一次对账
func (j *VaultAuditJob) Audit(ctx context.Context) ([]Violation, error) {
	agreements, err := j.agreements.ListAgreements(ctx)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	booked := make(map[common.Address]uint64)
	var accounts []common.Address
	for i := range agreements {
		a := &agreements[i]
		for _, kind := range logic.VaultViolations(a) {
			violations = append(violations, Violation{AgreementId: a.Id, Kind: kind})
		}
		if _, seen := booked[a.VaultAccount]; !seen {
			accounts = append(accounts, a.VaultAccount)
		}
		booked[a.VaultAccount] += a.VaultBalance
	}

	if j.balances == nil {
		return violations, nil
	}
	for _, account := range accounts {
		actual, err := j.balances.BalanceOf(ctx, account)
		if err != nil {
			return nil, err
		}
		if actual < booked[account] {
			violations = append(violations, Violation{Account: account, Kind: "ledger_shortfall"})
		}
	}
	return violations, nil
}
