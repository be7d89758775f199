// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供选择器修复所用的 LLM 补全服务。

# 核心接口

Completer 只有一个方法 Complete，接收单轮 Request 并返回文本。
修复引擎只依赖该接口，调用失败或超时都不会中断修复流程。

# 内置实现

  - OpenAICompleter：基于 go-openai 调用 OpenAI 兼容接口，
    组合 x/time/rate 限流、熔断器（circuitbreaker 子包）与指数退避重试；
    4xx 客户端错误既不重试也不计入熔断。
  - CachedCompleter：对温度为 0 的请求做本地 LRU 缓存，
    可选 Redis 作为共享二级缓存。

子包 tokenizer 提供 Token 计数与按预算截断。
*/
package llm
