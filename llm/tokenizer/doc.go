// Package tokenizer 提供 Token 计数器的构造与预算截断，
// 支持 tiktoken 精确计数与 CJK 感知的估算器，用于控制 LLM 提示长度。
package tokenizer
