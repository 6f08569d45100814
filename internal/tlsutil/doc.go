// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

// Package tlsutil 提供集中式 TLS 配置：语音供应商 HTTP 客户端、
// Redis 连接与媒体流监听共用同一套加固设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
