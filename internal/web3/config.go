package web3

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single governed chain endpoint.
type ChainDefinition struct {
	ChainID      int64  `yaml:"chain_id"`
	RPCURL       string `yaml:"rpc_url"`
	USDCAddress  string `yaml:"usdc_address"`
	USDCDecimals int    `yaml:"usdc_decimals"`
	Description  string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML chain definition file.
func LoadChainDefinitions(path string) (*ChainDefinitions, error) {
	if path == "" {
		return nil, fmt.Errorf("链配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取链配置失败: %w", err)
	}
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析链配置失败: %w", err)
	}
	if len(defs.Chains) == 0 {
		return nil, fmt.Errorf("链配置为空")
	}
	for name, def := range defs.Chains {
		if def.RPCURL == "" {
			return nil, fmt.Errorf("链 %s 缺少 rpc_url", name)
		}
		if def.ChainID <= 0 {
			return nil, fmt.Errorf("链 %s 的 chain_id 非法", name)
		}
	}
	return &defs, nil
}
