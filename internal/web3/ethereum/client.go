package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// balanceOfSelector 是 ERC-20 balanceOf(address) 的函数选择器。
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// Config describes how to construct an EVM compatible balance client.
type Config struct {
	Name         string
	ChainID      int64
	RPCURL       string
	USDCAddress  string
	USDCDecimals int
	Timeout      time.Duration
}

// Client reads wallet balances from a single EVM compatible chain.
type Client struct {
	name         string
	chainID      int64
	rpcClient    *gethrpc.Client
	eth          *ethclient.Client
	usdcAddress  common.Address
	usdcDecimals int
	timeout      time.Duration
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	if cfg.ChainID <= 0 {
		return nil, errors.New("未配置链 ID")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	decimals := cfg.USDCDecimals
	if decimals <= 0 {
		decimals = 6
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		name:         cfg.Name,
		chainID:      cfg.ChainID,
		rpcClient:    rpcClient,
		eth:          ethclient.NewClient(rpcClient),
		usdcDecimals: decimals,
		timeout:      timeout,
	}
	if addr := strings.TrimSpace(cfg.USDCAddress); addr != "" {
		client.usdcAddress = common.HexToAddress(addr)
	}
	return client, nil
}

// Name 返回链名称。
func (c *Client) Name() string { return c.name }

// ChainID 返回链 ID。
func (c *Client) ChainID() int64 { return c.chainID }

// ETHBalance 查询地址的原生代币余额，单位为 ETH。
func (c *Client) ETHBalance(ctx context.Context, wallet string) (float64, error) {
	if c == nil || c.eth == nil {
		return 0, errors.New("未初始化的以太坊客户端")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	balance, err := c.eth.BalanceAt(callCtx, common.HexToAddress(wallet), nil)
	if err != nil {
		return 0, fmt.Errorf("查询 ETH 余额失败: %w", err)
	}
	return weiToDecimal(balance, 18), nil
}

// USDCBalance 通过 ERC-20 balanceOf 查询 USDC 余额。
// 未配置 USDC 合约地址的链返回 0。
func (c *Client) USDCBalance(ctx context.Context, wallet string) (float64, error) {
	if c == nil || c.eth == nil {
		return 0, errors.New("未初始化的以太坊客户端")
	}
	if c.usdcAddress == (common.Address{}) {
		return 0, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(wallet).Bytes(), 32)...)

	result, err := c.eth.CallContract(callCtx, gethcore.CallMsg{
		To:   &c.usdcAddress,
		Data: data,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("查询 USDC 余额失败: %w", err)
	}
	if len(result) == 0 {
		return 0, errors.New("USDC balanceOf 返回为空")
	}
	return weiToDecimal(new(big.Int).SetBytes(result), c.usdcDecimals), nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// weiToDecimal 将整数最小单位转换为十进制数量。
func weiToDecimal(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), divisor).Float64()
	return value
}
