// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理持久化表（call_turns / call_sessions）的版本化 Schema，
基于 golang-migrate，支持 PostgreSQL 与 MySQL。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌，列定义与 persistence
包中 GormSink 的模型一一对应。SQLite 部署不走版本化迁移，
由 database.auto_migrate 在启动时建表。

# 核心类型

  - Migrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close
  - DefaultMigrator：golang-migrate 实现，上下文结束时在当前迁移后停止
  - CLI：callflow migrate 子命令的格式化输出与分发
*/
package migration
