// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
包 server 管理 CallFlow HTTP/HTTPS 监听的生命周期。

# 概述

Manager 封装 net/http.Server，负责监听、后台服务、优雅关闭与
异步错误传播。Twilio 媒体流 WebSocket 与管理接口共用同一监听，
因此连接级读写超时默认为 0，只限制请求头读取时间；
普通请求的超时由 cmd/callflow 用 http.TimeoutHandler 施加。

# 主要能力

  - Start / StartTLS：非阻塞启动，StartTLS 接收 tlsutil 生成的配置
  - Shutdown：在配置的超时内排空普通请求，幂等
  - Wait：阻塞直到上下文结束或服务异常退出
  - Addr：启动后返回实际绑定地址（便于 :0 端口测试）
*/
package server
