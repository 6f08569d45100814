// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、通话会话、
轮次、Provider 健康与持久化投递。

# 概述

Collector 通过 promauto 注册全部指标，按 namespace 隔离。
它同时实现编排器的 Recorder、Provider 池的 Observer 与
持久化分发器的 Observer，由 cmd/callflow 在启动时注入三者。

# 主要能力

  - HTTP：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx
  - 会话：活跃会话数、创建/结束计数（按原因）、时长、状态转换
  - 轮次：终态计数、端到端延迟、推理超时、缓冲区丢帧
  - Provider：调用结果计数、健康度 Gauge
  - 持久化：写入结果、写入耗时、丢弃原因、暂存区深度
  - 数据库：活跃/空闲连接数
*/
package metrics
