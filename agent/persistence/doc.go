// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供历史样本存储抽象及多后端实现。

# 概述

自适应超时、选择器修复与恢复动作排序都依赖同一份按键划分的
滚动窗口。窗口容量固定，超出后按 FIFO 淘汰最旧样本；样本 ID
在写入完成时生成（单调 ULID），因此所有后端都按完成顺序排序。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - HistoryStore: Append 写入样本，Query 返回最近 window 条样本
    （从旧到新）。

# 后端实现

  - Memory: 内存实现，适合开发与测试，重启后数据丢失。
  - File: 每个键一个 JSONL 文件（afero 文件系统），淘汰时原子重写。
  - Redis: RPUSH + LTRIM 事务流水线，适合分布式部署。
  - SQL: GORM 实现，支持 postgres、mysql 与纯 Go sqlite。
  - Mongo: 每个样本一个文档，按 (key, _id) 建索引。

# 使用方式

	store, err := persistence.NewHistoryStore(ctx, cfg.History, collector, logger)

传入 metrics.Collector 时返回的存储会按后端与操作记录指标。
*/
package persistence
