// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 CallFlow 服务端程序入口。

# 概述

cmd/callflow 把电话媒体流桥接到 STT → 对话代理 → TTS 管线。进程启动时
按配置构建供应商注册表、持久化分发器与编排器，然后在 HTTP 端口上暴露
Twilio Media Streams WebSocket、只读会话查询与健康检查，在独立端口上暴露
Prometheus 指标。

# 核心类型

  - Server       — 组装注册表、编排器与 handlers，管理双端口及优雅关闭
  - Middleware   — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    Metrics、OTel Tracing、CORS、JWTAuth（仅 /api/）
  - 优雅关闭：信号监听 → 停止探活 → 结束全部通话 → 关闭 HTTP →
    关闭 Metrics → 冲刷持久化 → 冲刷遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
