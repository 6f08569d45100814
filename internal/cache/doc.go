// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
包 cache 管理 CallFlow 共享的 Redis 连接。

# 概述

Manager 封装 go-redis 客户端的生命周期：初始化时 Ping 探活，
后台定时健康检查，Close 时停止检查并释放连接。
持久化层的 RedisSink 通过它写入轮次事件 Stream 与会话转写。

# 主要能力

  - Client：返回底层客户端，用于 Pipeline / TxPipeline / XADD
  - Key：按配置前缀拼接键名
  - Claim / Release：基于 SETNX 的幂等键，保证事件重复投递只写一次
  - GetStats：连接池统计
*/
package cache
