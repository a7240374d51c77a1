// Package delegation 维护每条 gas 委托的额度账本与只追加的用量事件流。
package delegation
