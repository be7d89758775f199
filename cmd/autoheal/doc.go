// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 autoheal 命令行入口。

# 概述

cmd/autoheal 在真实浏览器上驱动自适应执行引擎：执行一次工具调用、
修复失效选择器、等待页面稳定。配置由 YAML 文件、AUTOHEAL_* 环境变量
与 .env 文件（godotenv）共同提供，日志使用 zap。

# 子命令

  - run: 执行一次工具调用（重试、分类、恢复），输出执行结果 JSON
  - heal: 对失效选择器运行修复引擎，输出修复结果 JSON
  - wait: 等待页面满足稳定条件，输出稳定性指标
  - version: 显示版本信息

# 观测

metrics.enabled 为 true 时在 metrics.listen_addr 上暴露 /metrics、
/healthz 与 /stability；telemetry.enabled 为 true 时通过 OTLP 导出链路。
*/
package main
