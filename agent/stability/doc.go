// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package stability 评估页面是否进入稳定状态。

信号来自 SignalSource，默认实现向页面注入一段常驻脚本，采集：

  - 最近窗口内的 DOM 变更数（MutationObserver）
  - 正在运行的动画数（document.getAnimations）
  - 进行中的 fetch / XHR 请求数
  - 可见的加载指示器数量
  - readyState 与空闲回调心跳延迟

Detector 在 Go 侧记录请求数持续低于阈值的时长，并把各信号加权合成为 [0,1] 的评分。
后台监控按固定间隔刷新最近一次指标，Start/Stop 显式管理生命周期，Stop 会等待监控协程退出。
*/
package stability
