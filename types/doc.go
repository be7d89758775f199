// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 autoheal 引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 execution、recovery、
healing、smartwait 等上层模块提供统一的数据契约，以避免循环依赖。

# 核心类型

  - ToolInvocation: 单个自动化步骤（不可变，With* 派生副本）
  - ExecutionOutcome: 一次 Execute 的最终结果与逐次尝试记录
  - ErrorKind: 十种失败类别，支持文本序列化
  - ErrorClassification: 分类结果（Kind + Confidence + 建议动作）
  - RecoveryAction: 恢复动作枚举
  - SelectorCandidate / HealedSelector: 选择器修复候选与结果
  - HistoricalSample / RecoveryAttempt: 历史学习样本
  - Error / ExecutionError: 结构化错误体系

# 主要能力

  - 错误工具链：GetErrorCode / IsRetryable / IsCancelled
  - 历史键约定：WaitKey / HealKey / RecoveryKey
  - Token 估算：EstimateTokenizer（中英文字符分别计算）
*/
package types
