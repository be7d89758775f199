// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 browser 定义自愈执行引擎所依赖的浏览器抽象及其实现。

# 核心接口

  - Browser：执行命令（Execute）、读取页面状态（GetState）、
    实时解析选择器（Resolve）、执行脚本（EvaluateScript）、截图，
    以及恢复动作所需的刷新、导航、清理 Cookie/缓存与重建上下文。
  - Resolution：选择器在页面上的匹配数量与首个元素的可见性、
    可交互性和包围盒，用于判断修复结果是否唯一可用。

# 内置实现

  - ChromeDPBrowser：基于 chromedp 与 cdproto，调用方 ctx 控制取消与超时。
  - PlaywrightBrowser：基于 playwright-go，ctx 截止时间换算为毫秒超时。
  - Document：基于 goquery/cascadia 的静态 HTML 快照，离线解析选择器，
    供页面摘要与测试夹具使用。

驱动错误（ErrElementNotFound、ErrElementNotInteractable、ErrInvalidSelector）
的消息文本保持稳定，错误分类器依赖这些文本。
*/
package browser
