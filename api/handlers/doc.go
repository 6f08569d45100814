// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 CallFlow HTTP 接口的请求处理器。

# 概述

handlers 包包含三类端点：健康与版本探针、只读的会话与供应商查询，
以及 Twilio Media Streams 的 WebSocket 桥接。所有 Handler 遵循
标准 net/http 接口，JSON 响应统一为 success + data + error + timestamp。

# 核心类型

  - MediaStreamHandler — 把一条 Twilio 媒体流桥接到一个编排会话
  - SessionHandler     — GET /api/v1/sessions 与 /api/v1/sessions/{id}
  - HealthHandler      — /healthz、/ready、/version
  - HealthCheck        — 可插拔就绪检查（CheckFunc、ProviderHealthCheck）
  - ResponseWriter     — 捕获状态码与响应大小，保留 Hijack 以支持 WebSocket

# 媒体桥接

连接升级后先等待 start 事件，随后创建会话并并行运行两个泵：
入站 media 经 x/time/rate 限流后送入 FeedInboundAudio，超出速率的帧
直接丢弃并计数；出站 DrainOutboundAudio 的音频写成 media 消息，
发言结束标记写成 mark 消息。任一侧结束都会结束会话并关闭连接。
*/
package handlers
