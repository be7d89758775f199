// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 execution 提供 UI 工具调用的自适应执行循环。

# 概述

Loop 负责把一次工具调用（点击、输入、导航等）可靠地落到浏览器上：
每次尝试都带有超时控制，失败后交给错误分类器判定类型与置信度，
可恢复的错误经过指数退避后进入恢复引擎，再以恢复后的选择器重试。

# 核心接口

  - Executor：执行单条浏览器命令，browser.Browser 即满足。
  - Classifier：将失败映射为错误类型，classifier.Classifier 即满足。
  - Recoverer：按恢复策略执行恢复动作，recovery.Engine 即满足。
  - Timer：提供自适应超时并记录成功耗时，smartwait.Engine 即满足。

# 执行语义

  - 总尝试次数不超过 MaxRetries + 1。
  - 不可恢复的错误（Unknown 或置信度低于 0.7）立即失败，错误码 UNRECOVERABLE。
  - 上下文重启后再次崩溃视为终止，错误码 PAGE_CRASH_TERMINAL。
  - 重试耗尽返回 RETRIES_EXHAUSTED，并附带所有已尝试的恢复动作。
  - 上下文取消时结果标记 Cancelled，并返回 CANCELLED 错误。

# 统计

Loop.Stats 维护总执行数、成功/失败/取消计数、累计尝试数与累计耗时，
每次执行结束后写入 execution:<action> 历史样本。
*/
package execution
