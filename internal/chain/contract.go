package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ERC-20 中用到的方法与事件
const erc20ABI = `[
	{
		"constant": false,
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"name": "transferFrom",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "from", "type": "address"},
			{"indexed": true, "name": "to", "type": "address"},
			{"indexed": false, "name": "value", "type": "uint256"}
		],
		"name": "Transfer",
		"type": "event"
	}
]`

// TransferLog 解析后的 Transfer 事件
type TransferLog struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Token ERC-20 代币合约包装器
type Token struct {
	contract *bind.BoundContract
	address  common.Address
	abi      abi.ABI
}

// NewToken 创建代币合约实例，backend 通常为 *ethclient.Client
func NewToken(address common.Address, backend bind.ContractBackend) (*Token, error) {
	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	return &Token{
		contract: bind.NewBoundContract(address, parsedABI, backend, backend, backend),
		address:  address,
		abi:      parsedABI,
	}, nil
}

// GetAddress 获取合约地址
func (t *Token) GetAddress() common.Address {
	return t.address
}

// BalanceOf 查询账户余额
func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("balanceOf returned no value")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", out[0])
	}
	return balance, nil
}

// Transfer 运营账户直接转出
func (t *Token) Transfer(opts *bind.TransactOpts, to common.Address, value *big.Int) (*types.Transaction, error) {
	return t.contract.Transact(opts, "transfer", to, value)
}

// TransferFrom 使用 from 事先授予运营账户的额度转账
func (t *Token) TransferFrom(opts *bind.TransactOpts, from, to common.Address, value *big.Int) (*types.Transaction, error) {
	return t.contract.Transact(opts, "transferFrom", from, to, value)
}

// ParseTransfer 解析 Transfer 事件日志，非本合约或非 Transfer 事件返回 false
func (t *Token) ParseTransfer(log types.Log) (*TransferLog, bool) {
	event := t.abi.Events["Transfer"]
	if log.Address != t.address || len(log.Topics) != 3 || log.Topics[0] != event.ID {
		return nil, false
	}

	// 解析非索引参数
	values, err := t.abi.Unpack("Transfer", log.Data)
	if err != nil || len(values) != 1 {
		return nil, false
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, false
	}

	return &TransferLog{
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Value: value,
	}, true
}
