// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package recovery 根据错误分类选择并执行恢复动作。

# 动作顺序

优先级列表由两部分拼接并去重（保留首次出现）：

  - 历史学习顺序：同一错误类型下成功次数最多的动作在前
  - 分类器默认顺序：错误类型对应的静态动作表

# 恢复轮次

每轮按优先级依次尝试动作，直到某个动作成功；同一轮内同一动作不会执行两次。
第一轮不等待（执行循环已经退避），之后每轮前按退避策略等待。每个动作在独立超时下运行，
动作返回错误或发生 panic 都视为失败并继续下一个动作。每轮结束（无论成败）写入一条
RecoveryAttempt 历史样本。

# 页面崩溃

RestartContext 成功后若再次出现 PageCrash，视为终止状态，Result.Terminal 为 true。

动作通过以 RecoveryAction 为键的处理器表分发，构造时会校验分类器动作表中的每个动作都有处理器。
*/
package recovery
