// Package budget 按日历月为付费外部 API 调用分配配额。
// 检查与消耗是单个原子操作，并发调用不会丢失或重复计数；
// 存储不可用时一律拒绝调用以保护成本预算。
package budget
