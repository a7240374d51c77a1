// Package web3 定义链上余额查询的契约与多链配置。
package web3
