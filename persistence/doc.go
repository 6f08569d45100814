// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
包 persistence 把通话事件异步写入外部存储。

# 概述

编排器在每轮完成和会话结束时发布事件，Dispatcher 负责投递，
发布方永远不会被阻塞：队列满时事件进入有界暂存区（spool），
暂存区满时丢弃最旧的事件并计数。

# 投递链路

	PublishTurn / PublishSessionEnded
	  -> WorkerPool.TrySubmit（满则入 spool）
	  -> Retryer（瞬时失败退避重试）
	  -> CircuitBreaker（连续失败熔断，打开期间 spool 不回放）
	  -> Sink.Write

# Sink 实现

  - MemorySink：进程内，开发与测试使用
  - RedisSink：Redis Stream + 会话转写列表 + 会话汇总哈希，SETNX 去重
  - GormSink：call_turns / call_sessions 表，ON CONFLICT DO NOTHING
  - MongoSink：按事件键 upsert 文档

所有 Sink 按 Event.Key 保持幂等，重试与 spool 回放可能重复投递。
同一会话的事件跨 worker 不保证写入顺序，读取时按轮次号排序。
*/
package persistence
