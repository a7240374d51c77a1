// Package llm 定义付费推理服务的调用契约。推理只负责给出建议与置信度，
// 是否执行由编排器的阈值与紧急状态门控决定。
package llm
