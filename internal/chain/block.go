package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// HeaderReader 读取最新区块头
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// GetCurrentBlockNumber 获取当前最新区块号
func GetCurrentBlockNumber(ctx context.Context, client HeaderReader) (uint64, error) {
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	return header.Number.Uint64(), nil
}

// WaitConfirmations 等待回执所在区块之后再出 confirmations-1 个块
func WaitConfirmations(ctx context.Context, client HeaderReader, receipt *types.Receipt, confirmations uint64, poll time.Duration) error {
	if confirmations <= 1 {
		return nil
	}
	target := receipt.BlockNumber.Uint64() + confirmations - 1

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		latest, err := GetCurrentBlockNumber(ctx, client)
		if err != nil {
			return err
		}
		if latest >= target {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
