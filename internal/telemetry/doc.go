// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化，为会话与轮次 span
// 提供 Tracer，并以可观测 Gauge 上报活跃通话数。
// 遥测禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
