package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/blues/collab/internal/logger"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrAuthorityMismatch = errors.New("authority cannot move funds from source account")
	ErrTransactionFailed = errors.New("transaction reverted")
)

// Backend 转账所需的节点接口
type Backend interface {
	bind.DeployBackend
	HeaderReader
}

// TokenTransferer 基于 ERC-20 代币的资金划转
//
// 运营账户签名所有交易：from 为运营账户时直接 transfer，authority 必须是运营账户
// 或配置的代理人；否则要求 authority 与 from 相同并使用 transferFrom，额度需由 from 事先 approve。
type TokenTransferer struct {
	token         *Token
	backend       Backend
	operator      common.Address
	delegates     map[common.Address]bool
	signer        func(ctx context.Context) (*bind.TransactOpts, error)
	confirmations uint64
	txTimeout     time.Duration
}

// NewTokenTransferer 使用链管理器的客户端和运营账户创建划转器
func NewTokenTransferer(m *Manager) (*TokenTransferer, error) {
	cfg := m.GetConfig()
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", cfg.TokenAddress)
	}

	delegates, err := parseDelegates(cfg.Delegates)
	if err != nil {
		return nil, err
	}

	client := m.GetClient()
	token, err := NewToken(common.HexToAddress(cfg.TokenAddress), client)
	if err != nil {
		return nil, err
	}

	return &TokenTransferer{
		token:         token,
		backend:       client,
		operator:      m.Operator(),
		delegates:     delegates,
		signer:        m.TransactOpts,
		confirmations: cfg.Confirmations,
		txTimeout:     cfg.TxTimeout,
	}, nil
}

// Transfer 发送转账交易并等待上链确认
func (t *TokenTransferer) Transfer(ctx context.Context, from, to common.Address, amount uint64, authority common.Address) error {
	if !t.authorized(from, authority) {
		return fmt.Errorf("%w: %s for %s", ErrAuthorityMismatch, authority.Hex(), from.Hex())
	}

	if t.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.txTimeout)
		defer cancel()
	}

	opts, err := t.signer(ctx)
	if err != nil {
		return err
	}

	value := new(big.Int).SetUint64(amount)
	var tx *types.Transaction
	if from == t.operator {
		tx, err = t.token.Transfer(opts, to, value)
	} else {
		tx, err = t.token.TransferFrom(opts, from, to, value)
	}
	if err != nil {
		return fmt.Errorf("failed to send transfer: %w", err)
	}
	logger.Info("Token transfer %s -> %s (%d) sent, tx: %s", from.Hex(), to.Hex(), amount, tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, t.backend, tx)
	if err != nil {
		return fmt.Errorf("failed to wait for transfer %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", ErrTransactionFailed, tx.Hash().Hex())
	}
	if !t.transferLogged(receipt, from, to, value) {
		return fmt.Errorf("%w: %s emitted no matching Transfer event", ErrTransactionFailed, tx.Hash().Hex())
	}

	if err := WaitConfirmations(ctx, t.backend, receipt, t.confirmations, 2*time.Second); err != nil {
		return fmt.Errorf("failed to confirm transfer %s: %w", tx.Hash().Hex(), err)
	}
	return nil
}

// BalanceOf 查询代币余额
func (t *TokenTransferer) BalanceOf(ctx context.Context, addr common.Address) (uint64, error) {
	balance, err := t.token.BalanceOf(ctx, addr)
	if err != nil {
		return 0, err
	}
	if !balance.IsUint64() {
		return 0, fmt.Errorf("balance of %s exceeds uint64", addr.Hex())
	}
	return balance.Uint64(), nil
}

func (t *TokenTransferer) transferLogged(receipt *types.Receipt, from, to common.Address, value *big.Int) bool {
	for _, l := range receipt.Logs {
		if l == nil {
			continue
		}
		if transfer, ok := t.token.ParseTransfer(*l); ok &&
			transfer.From == from && transfer.To == to && transfer.Value.Cmp(value) == 0 {
			return true
		}
	}
	return false
}

// authorized 运营账户的转出只接受运营账户或代理人授权
func (t *TokenTransferer) authorized(from, authority common.Address) bool {
	if authority == from {
		return true
	}
	return from == t.operator && t.delegates[authority]
}

func parseDelegates(addrs []string) (map[common.Address]bool, error) {
	delegates := make(map[common.Address]bool, len(addrs))
	for _, addr := range addrs {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid delegate address %q", addr)
		}
		delegates[common.HexToAddress(addr)] = true
	}
	return delegates, nil
}
