// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package smartwait 提供基于页面稳定性的条件等待与自适应超时。

# 条件等待

等待条件是对稳定性指标的谓词，内置 DomStable、NetworkIdle、AnimationsComplete、
NoLoaders、ScriptsIdle 与 ScoreAtLeast，可用 All / Any 组合。Engine 按 PollInterval
轮询，结果为 Stable、TimedOut 或 Cancelled 之一；取消在一个轮询间隔内返回。

# 自适应超时

每次动作成功后记录耗时。成功样本达到 MinSamples 后，超时取样本第 95 百分位乘以安全系数，
并限制在 [MinTimeout, MaxTimeout]；样本不足时使用 DefaultTimeout。
*/
package smartwait
