package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountOwned        = errors.New("account owned by another principal")
	ErrNotAuthorized       = errors.New("authority does not own source account")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

type account struct {
	owner   common.Address
	balance uint64
}

// MemoryLedger 进程内账本
//
// 每个账户有一个所有者，只有所有者能从账户转出。
// 普通地址的所有者是它自己，金库账户的所有者在开户时指定。
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[common.Address]*account
}

// NewMemoryLedger 创建内存账本
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[common.Address]*account)}
}

// OpenAccount 开户，同一所有者重复开户无副作用
//
// 收款时自动开出的空账户可以被接管，账户有余额后所有者不再变更。
func (l *MemoryLedger) OpenAccount(_ context.Context, addr, owner common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if acc, ok := l.accounts[addr]; ok {
		if acc.owner == owner {
			return nil
		}
		if acc.owner == addr && acc.balance == 0 {
			acc.owner = owner
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAccountOwned, addr.Hex())
	}
	l.accounts[addr] = &account{owner: owner}
	return nil
}

// Mint 向地址发放初始余额，账户不存在时以地址自身为所有者开户
func (l *MemoryLedger) Mint(addr common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.accountLocked(addr)
	if acc.balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, addr.Hex())
	}
	acc.balance += amount
	return nil
}

// BalanceOf 查询余额，未开户的地址余额为 0
func (l *MemoryLedger) BalanceOf(_ context.Context, addr common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if acc, ok := l.accounts[addr]; ok {
		return acc.balance, nil
	}
	return 0, nil
}

// Transfer 划转资金，authority 必须是 from 的所有者
func (l *MemoryLedger) Transfer(_ context.Context, from, to common.Address, amount uint64, authority common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.accounts[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, from.Hex())
	}
	if src.owner != authority {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, from.Hex())
	}
	if src.balance < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientBalance, from.Hex(), src.balance, amount)
	}

	dst := l.accountLocked(to)
	if from != to && dst.balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, to.Hex())
	}

	src.balance -= amount
	dst.balance += amount
	return nil
}

func (l *MemoryLedger) accountLocked(addr common.Address) *account {
	acc, ok := l.accounts[addr]
	if !ok {
		acc = &account{owner: addr}
		l.accounts[addr] = acc
	}
	return acc
}
