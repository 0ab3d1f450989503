package logic

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/blues/collab/internal/logger"
	"github.com/blues/collab/internal/metrics"
	"github.com/blues/collab/internal/model"
	"github.com/blues/collab/internal/repository"
	"github.com/ethereum/go-ethereum/common"
)

const maxAgreementIdLength = 64

// AgreementLogic 协议生命周期业务逻辑
//
// 每个修改操作都在一次 store.Update 内完成：所有校验先于修改执行，
// 校验或转账失败时存储中的协议保持不变。事件在提交成功后发出。
type AgreementLogic struct {
	store        repository.AgreementStore
	transferer   Transferer
	vault        *EscrowVault
	sink         EventSink
	clock        Clock
	vaultAccount func(agreementId string) common.Address
	newID        func() string
}

// NewAgreementLogic 创建协议业务逻辑
func NewAgreementLogic(store repository.AgreementStore, transferer Transferer, opts ...Option) *AgreementLogic {
	l := &AgreementLogic{
		store:        store,
		transferer:   transferer,
		vault:        NewEscrowVault(transferer),
		sink:         nopSink{},
		clock:        systemClock{},
		vaultAccount: DeriveVaultAccount,
		newID:        newUUID,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateAgreementInput 创建协议参数
type CreateAgreementInput struct {
	Id          string // 为空时自动生成
	Creator     common.Address
	Title       string
	Description string
	FundingGoal uint64
	IPTerms     *model.IPTerms
	Draft       bool // 以草稿状态创建，激活前不能添加里程碑
}

// InitializeAgreement 创建协议，创建者作为唯一管理员
func (l *AgreementLogic) InitializeAgreement(ctx context.Context, in CreateAgreementInput) (*model.AgreementModel, error) {
	start := time.Now()
	agreement, err := l.initialize(ctx, in)
	metrics.RecordOperation("InitializeAgreement", resultLabel(err), time.Since(start))
	if err != nil {
		logRejected("InitializeAgreement", in.Id, err)
		return nil, err
	}

	logger.Info("Agreement %s created by %s", agreement.Id, agreement.Creator.Hex())
	l.emit(ctx, model.AuditEvent{
		Type:        model.EventAgreementCreated,
		AgreementId: agreement.Id,
		Principal:   addrPtr(agreement.Creator),
		Vault:       addrPtr(agreement.VaultAccount),
		Status:      agreement.Status,
		Timestamp:   agreement.CreatedAt,
	})
	return agreement, nil
}

func (l *AgreementLogic) initialize(ctx context.Context, in CreateAgreementInput) (*model.AgreementModel, error) {
	// 验证协议数据
	if err := validateAgreement(in); err != nil {
		return nil, err
	}

	id := in.Id
	if id == "" {
		id = l.newID()
	} else if _, err := l.store.Get(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: agreement %s", ErrAccountAlreadyInitialized, id)
	} else if !errors.Is(err, repository.ErrAgreementNotFound) {
		return nil, err
	}

	now := l.clock.Now()
	status := model.AgreementStatusActive
	if in.Draft {
		status = model.AgreementStatusDraft
	}

	agreement := &model.AgreementModel{
		Id:           id,
		CreatedAt:    now,
		UpdatedAt:    now,
		Creator:      in.Creator,
		Title:        in.Title,
		Description:  in.Description,
		Status:       status,
		Participants: []model.Participant{{Address: in.Creator, IsAdmin: true}},
		Milestones:   []model.Milestone{},
		FundingGoal:  in.FundingGoal,
		VaultAccount: l.vaultAccount(id),
	}
	if in.IPTerms != nil {
		terms := *in.IPTerms
		terms.OwnershipSplit = append([]model.OwnershipShare(nil), in.IPTerms.OwnershipSplit...)
		agreement.IPTerms = &terms
	}

	// 为金库开户，开户人为创建者
	if opener, ok := l.transferer.(AccountOpener); ok {
		if err := opener.OpenAccount(ctx, agreement.VaultAccount, agreement.Creator); err != nil {
			return nil, fmt.Errorf("failed to open vault account: %w", err)
		}
	}

	if err := l.store.Create(ctx, agreement); err != nil {
		if errors.Is(err, repository.ErrAgreementExists) {
			return nil, fmt.Errorf("%w: agreement %s", ErrAccountAlreadyInitialized, id)
		}
		return nil, err
	}
	return agreement, nil
}

// AddParticipant 添加协议成员
func (l *AgreementLogic) AddParticipant(ctx context.Context, id string, caller, principal common.Address, isAdmin bool) error {
	if principal == (common.Address{}) {
		return fmt.Errorf("%w: participant address is required", ErrInvalidArgument)
	}

	return l.apply(ctx, "AddParticipant", id, func(a *model.AgreementModel, now time.Time) (*model.AuditEvent, error) {
		if err := requireStatus(a, model.AgreementStatusDraft, model.AgreementStatusActive, model.AgreementStatusPendingReview); err != nil {
			return nil, err
		}
		if err := requireAdmin(a, caller); err != nil {
			return nil, err
		}
		if len(a.Participants) >= model.MaxParticipants {
			return nil, fmt.Errorf("%w: at most %d participants", ErrCapacityExceeded, model.MaxParticipants)
		}
		if IsParticipant(a, principal) {
			return nil, fmt.Errorf("%w: %s", ErrParticipantExists, principal.Hex())
		}

		a.Participants = append(a.Participants, model.Participant{Address: principal, IsAdmin: isAdmin})
		return &model.AuditEvent{
			Type:      model.EventParticipantAdded,
			Principal: addrPtr(principal),
			Timestamp: now,
		}, nil
	})
}

// AddMilestone 添加里程碑，收款人默认为调用者，返回里程碑下标
func (l *AgreementLogic) AddMilestone(ctx context.Context, id string, caller common.Address, description string, dueDate time.Time, amount uint64) (int, error) {
	if utf8.RuneCountInString(description) > model.MaxDescriptionLength {
		return 0, fmt.Errorf("%w: milestone description exceeds %d characters", ErrInvalidArgument, model.MaxDescriptionLength)
	}
	if dueDate.IsZero() {
		return 0, fmt.Errorf("%w: milestone due date is required", ErrInvalidArgument)
	}

	var index int
	err := l.apply(ctx, "AddMilestone", id, func(a *model.AgreementModel, now time.Time) (*model.AuditEvent, error) {
		if err := requireStatus(a, model.AgreementStatusActive, model.AgreementStatusPendingReview); err != nil {
			return nil, err
		}
		if err := requireAdmin(a, caller); err != nil {
			return nil, err
		}

		i, err := LedgerOf(a).Append(model.Milestone{
			Description: description,
			DueDate:     dueDate,
			Amount:      amount,
			Recipient:   caller,
		})
		if err != nil {
			return nil, err
		}
		index = i
		return &model.AuditEvent{
			Type:           model.EventMilestoneAdded,
			MilestoneIndex: intPtr(i),
			Amount:         amount,
			Timestamp:      now,
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// SetRecipient 在里程碑完成前重新指定收款人
func (l *AgreementLogic) SetRecipient(ctx context.Context, id string, caller common.Address, index int, recipient common.Address) error {
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: recipient address is required", ErrInvalidArgument)
	}

	return l.apply(ctx, "SetRecipient", id, func(a *model.AgreementModel, now time.Time) (*model.AuditEvent, error) {
		ledger := LedgerOf(a)
		if _, err := ledger.At(index); err != nil {
			return nil, err
		}
		if err := requireStatus(a, model.AgreementStatusActive, model.AgreementStatusPendingReview); err != nil {
			return nil, err
		}
		if err := requireAdmin(a, caller); err != nil {
			return nil, err
		}
		if err := ledger.SetRecipient(index, recipient); err != nil {
			return nil, err
		}
		return &model.AuditEvent{
			Type:           model.EventRecipientUpdated,
			MilestoneIndex: intPtr(index),
			Principal:      addrPtr(recipient),
			Timestamp:      now,
		}, nil
	})
}

// CompleteMilestone 标记里程碑完成，重复调用无副作用
func (l *AgreementLogic) CompleteMilestone(ctx context.Context, id string, caller common.Address, index int) error {
	return l.apply(ctx, "CompleteMilestone", id, func(a *model.AgreementModel, now time.Time) (*model.AuditEvent, error) {
		ledger := LedgerOf(a)
		if _, err := ledger.At(index); err != nil {
			return nil, err
		}
		if err := requireStatus(a, model.AgreementStatusActive, model.AgreementStatusPendingReview); err != nil {
			return nil, err
		}
		if err := requireAdmin(a, caller); err != nil {
			return nil, err
		}

		changed, err := ledger.Complete(index, now)
		if err != nil || !changed {
			return nil, err
		}
		return &model.AuditEvent{
			Type:           model.EventMilestoneCompleted,
			MilestoneIndex: intPtr(index),
			Timestamp:      now,
		}, nil
	})
}

// ReleasePayment 从金库向里程碑收款人支付，转账成功后才标记已支付
func (l *AgreementLogic) ReleasePayment(ctx context.Context, id string, caller, authority common.Address, index int) error {
	return l.apply(ctx, "ReleasePayment", id, func(a *model.AgreementModel, now time.Time) (*model.AuditEvent, error) {
		ledger := LedgerOf(a)
		if _, err := ledger.At(index); err != nil {
			return nil, err
		}
		if err := requireStatus(a, model.AgreementStatusActive, model.AgreementStatusPendingReview); err != nil {
			return nil, err
		}
		if err := requireAdmin(a, caller); err != nil {
			return nil, err
		}

		m, err := ledger.Payable(index)
		if err != nil {
			return nil, err
		}
		amount, recipient := m.Amount, m.Recipient

		// 零金额里程碑不发起转账
		if amount > 0 {
			if err := l.vault.Withdraw(ctx, a, amount, recipient, authority); err != nil {
				return nil, err
			}
		}
		a.TotalReleased += amount
		if err := ledger.MarkPaid(index, now); err != nil {
			return nil, err
		}

		return &model.AuditEvent{
			Type:           model.EventPaymentReleased,
			MilestoneIndex: intPtr(index),
			Amount:         amount,
			Principal:      addrPtr(recipient),
			Vault:          addrPtr(a.VaultAccount),
			Timestamp:      now,
		}, nil
	})
}

// FundVault 向协议金库存入资金，任何人都可以出资
func (l *AgreementLogic) FundVault(ctx context.Context, id string, depositor, authority common.Address, amount uint64) error {
	return l.apply(ctx, "FundVault", id, func(a *model.AgreementModel, now time.Time) (*model.AuditEvent, error) {
		if err := requireStatus(a,
			model.AgreementStatusDraft,
			model.AgreementStatusActive,
			model.AgreementStatusPendingReview,
			model.AgreementStatusDisputed,
		); err != nil {
			return nil, err
		}
		if err := l.vault.Deposit(ctx, a, depositor, authority, amount); err != nil {
			return nil, err
		}
		return &model.AuditEvent{
			Type:      model.EventVaultFunded,
			Amount:    amount,
			Principal: addrPtr(depositor),
			Vault:     addrPtr(a.VaultAccount),
			Timestamp: now,
		}, nil
	})
}

// GetAgreement 获取协议详情
func (l *AgreementLogic) GetAgreement(ctx context.Context, id string) (*model.AgreementModel, error) {
	agreement, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, translateStoreError(id, err)
	}
	return agreement, nil
}

// ListAgreements 获取协议列表
func (l *AgreementLogic) ListAgreements(ctx context.Context) ([]model.AgreementModel, error) {
	agreements, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agreements: %w", err)
	}
	return agreements, nil
}

// VaultBalance 查询金库余额
func (l *AgreementLogic) VaultBalance(ctx context.Context, id string) (uint64, error) {
	agreement, err := l.GetAgreement(ctx, id)
	if err != nil {
		return 0, err
	}
	return agreement.VaultBalance, nil
}

type mutation func(a *model.AgreementModel, now time.Time) (*model.AuditEvent, error)

// apply 在一次原子更新内执行 fn，提交成功后记录指标并发出事件
func (l *AgreementLogic) apply(ctx context.Context, op, id string, fn mutation) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation(op, resultLabel(err), time.Since(start))
	}()

	var (
		evt      *model.AuditEvent
		rejected bool
	)
	err = l.store.Update(ctx, id, func(a *model.AgreementModel) error {
		e, fnErr := fn(a, l.clock.Now())
		if fnErr != nil {
			rejected = true
			return fnErr
		}
		evt = e
		return nil
	})
	if err != nil {
		err = translateStoreError(id, err)
		if !rejected && movesFunds(evt) {
			logger.Error("%s on agreement %s moved %d but the state was not committed: %v", op, id, evt.Amount, err)
			return err
		}
		logRejected(op, id, err)
		return err
	}

	if evt == nil {
		logger.Debug("%s on agreement %s changed nothing", op, id)
		return nil
	}

	switch evt.Type {
	case model.EventVaultFunded:
		metrics.AddFunded(evt.Amount)
	case model.EventPaymentReleased:
		metrics.AddReleased(evt.Amount)
	}

	evt.AgreementId = id
	logger.Info("%s on agreement %s succeeded", op, id)
	l.emit(ctx, *evt)
	return nil
}

func (l *AgreementLogic) emit(ctx context.Context, evt model.AuditEvent) {
	if err := l.sink.Emit(ctx, evt); err != nil {
		logger.Error("Failed to emit %s for agreement %s: %v", evt.Type, evt.AgreementId, err)
	}
}

// requireStatus 协议状态必须在 allowed 之内，争议中的协议返回 ErrAgreementDisputed
func requireStatus(a *model.AgreementModel, allowed ...model.AgreementStatus) error {
	for _, s := range allowed {
		if a.Status == s {
			return nil
		}
	}
	if a.Status == model.AgreementStatusDisputed {
		return fmt.Errorf("%w: agreement %s", ErrAgreementDisputed, a.Id)
	}
	return fmt.Errorf("%w: agreement %s is %s", ErrInvalidAgreementStatus, a.Id, a.Status)
}

func validateAgreement(in CreateAgreementInput) error {
	if in.Creator == (common.Address{}) {
		return fmt.Errorf("%w: creator is required", ErrInvalidArgument)
	}
	if len(in.Id) > maxAgreementIdLength {
		return fmt.Errorf("%w: agreement id exceeds %d characters", ErrInvalidArgument, maxAgreementIdLength)
	}
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(in.Title) > model.MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidArgument, model.MaxTitleLength)
	}
	if utf8.RuneCountInString(in.Description) > model.MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidArgument, model.MaxDescriptionLength)
	}
	if in.IPTerms != nil {
		return validateIPTerms(in.IPTerms)
	}
	return nil
}

func validateIPTerms(terms *model.IPTerms) error {
	if utf8.RuneCountInString(terms.LicenseType) > model.MaxLicenseLength {
		return fmt.Errorf("%w: license type exceeds %d characters", ErrInvalidArgument, model.MaxLicenseLength)
	}

	seen := make(map[common.Address]bool, len(terms.OwnershipSplit))
	total := 0
	for _, share := range terms.OwnershipSplit {
		if seen[share.Address] {
			return fmt.Errorf("%w: duplicate ownership share for %s", ErrInvalidArgument, share.Address.Hex())
		}
		seen[share.Address] = true
		total += int(share.Percentage)
	}
	if total > 100 {
		return fmt.Errorf("%w: ownership split sums to %d%%", ErrInvalidArgument, total)
	}
	return nil
}

func translateStoreError(id string, err error) error {
	if errors.Is(err, repository.ErrAgreementNotFound) {
		return fmt.Errorf("%w: %s", ErrAgreementNotFound, id)
	}
	return err
}

func logRejected(op, id string, err error) {
	switch code := ErrorCode(err); code {
	case "Internal", "TransferFailed":
		logger.Error("%s on agreement %s failed: %v", op, id, err)
	default:
		logger.Warn("%s on agreement %s rejected (%s): %v", op, id, code, err)
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorCode(err)
}

func movesFunds(evt *model.AuditEvent) bool {
	if evt == nil || evt.Amount == 0 {
		return false
	}
	switch evt.Type {
	case model.EventVaultFunded, model.EventPaymentReleased, model.EventFundsReclaimed:
		return true
	}
	return false
}

func intPtr(i int) *int { return &i }

func addrPtr(a common.Address) *common.Address { return &a }
