// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理命令行进程内的观测端点 HTTP 服务器。

Manager 封装 net/http.Server，提供非阻塞启动、优雅关闭与异步错误通道，
用于暴露 Prometheus /metrics、健康检查与页面稳定性快照。
监听地址取自 metrics.listen_addr，":0" 时 Addr 返回实际端口。
*/
package server
