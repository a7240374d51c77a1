package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"GasWarden/internal/web3"
	"GasWarden/internal/web3/ethereum"
	"GasWarden/pkg/logger"
)

// Registry manages balance clients for every governed chain and
// implements web3.BalanceProvider across all of them.
type Registry struct {
	wallet  string
	clients map[string]*ethereum.Client
	log     *slog.Logger
}

// Config 描述余额注册表的构造参数。
type Config struct {
	// ChainConfig 是 YAML 链定义文件的路径。
	ChainConfig string
	// WalletAddress 是代理钱包地址。
	WalletAddress string
	// CallTimeout 是单次 RPC 调用的超时时间。
	CallTimeout time.Duration
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	if strings.TrimSpace(cfg.WalletAddress) == "" {
		return nil, errors.New("未配置代理钱包地址")
	}
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]*ethereum.Client)
	for name, chain := range defs.Chains {
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:         name,
			ChainID:      chain.ChainID,
			RPCURL:       chain.RPCURL,
			USDCAddress:  chain.USDCAddress,
			USDCDecimals: chain.USDCDecimals,
			Timeout:      cfg.CallTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}
	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	return &Registry{
		wallet:  cfg.WalletAddress,
		clients: clients,
		log:     logger.Named("web3"),
	}, nil
}

// AgentWalletBalances 查询代理钱包在所有链上的余额。
// 单条链失败时跳过该链并记录日志；全部失败时返回空切片，
// 由调用方按“余额未知”处理。
func (r *Registry) AgentWalletBalances(ctx context.Context) []web3.ChainBalance {
	if r == nil {
		return nil
	}
	balances := make([]web3.ChainBalance, 0, len(r.clients))
	for _, name := range r.Chains() {
		client := r.clients[name]
		eth, err := client.ETHBalance(ctx, r.wallet)
		if err != nil {
			r.log.Warn("查询链上余额失败",
				slog.String("chain", name),
				slog.Any("error", err),
			)
			continue
		}
		usdc, err := client.USDCBalance(ctx, r.wallet)
		if err != nil {
			r.log.Warn("查询 USDC 余额失败",
				slog.String("chain", name),
				slog.Any("error", err),
			)
			continue
		}
		balances = append(balances, web3.ChainBalance{
			ChainID:     client.ChainID(),
			ChainName:   name,
			ETHBalance:  eth,
			USDCBalance: usdc,
		})
	}
	return balances
}

// Chains returns the list of registered chain names in stable order.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

var _ web3.BalanceProvider = (*Registry)(nil)
