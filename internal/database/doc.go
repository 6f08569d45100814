// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接与连接池管理。

# 概述

Open 根据 config.DatabaseConfig 选择方言（postgres、mysql，
或纯 Go 的 sqlite），打开连接并交给 PoolManager 管理连接池参数、
后台健康检查与事务重试。持久化层的 GormSink 通过它写入通话轮次
与会话记录，migrate 子命令也复用同一连接。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB/Ping/Stats/Close
  - PoolConfig：连接池参数，PoolConfigFrom 从数据库配置派生
  - TransactionFunc：事务回调

# 主要能力

  - WithTransaction / WithTransactionRetry：死锁、序列化失败、
    连接中断等瞬时错误按指数退避重试
  - IsRetryableError：瞬时数据库错误判定
*/
package database
