// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理，支持健康检查、
统计信息采集与事务重试，供 SQL 历史存储后端使用。

# 概述

Open 按驱动类型（postgres、mysql、sqlite）构造 GORM 方言并创建
PoolManager。sqlite 使用 glebarez 纯 Go 驱动，不依赖 cgo。
后台健康检查定时探活，Close 时显式停止并等待退出。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB。
  - PoolConfig：连接池配置，Validate 校验连接数关系。
  - PoolStats：友好格式的连接池统计信息。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 对死锁、序列化失败等瞬时错误指数退避重试。
*/
package database
