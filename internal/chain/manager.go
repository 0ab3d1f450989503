package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/blues/collab/internal/config"
	"github.com/blues/collab/internal/logger"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Manager 链连接与运营账户管理
type Manager struct {
	mu         sync.RWMutex
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	operator   common.Address
	chainId    *big.Int
	config     config.ChainConfig
}

// NewManager 连接节点并加载运营账户
func NewManager(ctx context.Context, cfg config.ChainConfig) (*Manager, error) {
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("no RPC URL configured")
	}

	// 解析私钥
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	logger.Info("Creating chain client connection (RPC: %s)", cfg.RpcUrl)
	client, err := ethclient.DialContext(ctx, cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain client: %w", err)
	}

	// 测试连接
	chainId, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("client connection test failed: %w", err)
	}
	if cfg.ChainId != 0 && chainId.Int64() != cfg.ChainId {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: configured %d, node reports %s", cfg.ChainId, chainId)
	}

	m := &Manager{
		client:     client,
		privateKey: privateKey,
		operator:   crypto.PubkeyToAddress(privateKey.PublicKey),
		chainId:    chainId,
		config:     cfg,
	}
	logger.Info("Successfully initialized chain client (id: %s, operator: %s)", chainId, m.operator.Hex())
	return m, nil
}

// GetClient 获取客户端
func (m *Manager) GetClient() *ethclient.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Operator 运营账户地址，链上模式下同时作为所有协议的金库账户
func (m *Manager) Operator() common.Address {
	return m.operator
}

// TransactOpts 获取交易授权
func (m *Manager) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(m.privateKey, m.chainId)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	return auth, nil
}

// GetConfig 获取链配置
func (m *Manager) GetConfig() config.ChainConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetHealthStatus 获取健康状态
func (m *Manager) GetHealthStatus(ctx context.Context) map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := map[string]interface{}{
		"chain_id":      m.chainId.String(),
		"operator":      m.operator.Hex(),
		"token":         m.config.TokenAddress,
		"client_status": "connected",
	}

	if m.client == nil {
		health["client_status"] = "not_initialized"
	} else if _, err := m.client.BlockNumber(ctx); err != nil {
		health["client_status"] = "disconnected"
	}

	return health
}

// Close 关闭管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		m.client.Close()
		m.client = nil
	}

	logger.Info("Chain manager closed")
	return nil
}
