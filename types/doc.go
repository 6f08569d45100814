// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 CallFlow 全局共享的类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 provider、session、
orchestrator、persistence 等上层模块提供统一的错误码与媒体值类型。

# 核心类型

  - Error / ErrorCode   — 结构化错误，含 HTTP 状态码、Retryable、Provider 标记
  - ProviderErrorKind   — transient / fatal 两类供应商错误
  - AgentErrorKind      — timeout / invocation_failure 两类 Agent 错误
  - AudioFrame          — 固定时长的通话音频帧
  - TranscriptDelta     — 识别结果片段（partial / final）
  - Role                — 会话条目的说话方

# 主要能力

  - 错误构造：NewProviderError / NewNoProviderAvailable / NewAgentError /
    NewBufferOverrun / NewSessionTimeout
  - 错误判断：IsTransient / IsFatal / IsNoProviderAvailable / IsAgentTimeout，
    均透过 errors.As 识别包装后的错误
  - HTTP 状态分类：ClassifyHTTPStatus
*/
package types
