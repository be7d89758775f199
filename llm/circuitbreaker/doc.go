// Package circuitbreaker 提供 closed / open / half-open 三态熔断器，
// 用于保护 LLM 补全等外部调用：连续失败达到阈值后快速失败，
// 经过恢复时间后放行有限的探测请求。
package circuitbreaker
