// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
包 agent 提供编排器调用的对话 Agent 能力。

# 契约

	Invoke(ctx, conversation, utterance, tools) (string, error)

编排器把它视为不透明且可能较慢的能力：超过推理截止时间的结果会被丢弃。
失败统一映射为 types.Error，错误码为 AGENT_TIMEOUT 或
AGENT_INVOCATION_FAILURE。

# 组成

  - ChatAgent       — OpenAI 兼容 /v1/chat/completions 客户端，支持多轮工具调用
  - Budget          — 基于 tiktoken 的上下文裁剪，保证请求不超过 Token 预算
  - CallCenterTools — 客户信息、通话记录、工单、知识库、产品五个工具
  - Directory       — 工具背后的数据源接口，MemoryDirectory 为内存实现
*/
package agent
