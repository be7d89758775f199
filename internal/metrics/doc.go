// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的引擎指标采集能力，覆盖
执行、分类、恢复、修复、等待、LLM 与历史存储七个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，所有指标按 namespace 隔离。测试与嵌入场景可通过
NewCollectorWithRegisterer 传入独立 Registry。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 向量，
    所有记录方法对 nil 接收者安全。

# 主要能力

  - 执行指标：按 action/outcome 统计执行次数与耗时，按尝试计数。
  - 恢复指标：按 kind/action/status 统计恢复动作。
  - 修复指标：按 strategy 统计修复结果与最佳候选置信度分布。
  - 等待指标：等待结果计数、等待耗时、最新稳定性评分 Gauge。
  - LLM 指标：请求数、耗时、Token 用量。
  - 存储指标：按 backend/operation 统计历史存储操作。
*/
package metrics
