// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
包 session 定义单通电话的会话状态机、轮次 (Turn) 与对话上下文。

# 状态

	Idle → Listening → Transcribing → Reasoning → Synthesizing → Speaking → Listening …

任意状态都可以进入 Ended，Ended 为终态。另有三条降级路径：

  - Transcribing → Listening   — 没有识别出内容，轮次静默中止
  - Transcribing → Synthesizing — STT 不可用，播报致歉语
  - Synthesizing → Listening   — TTS 未产出任何音频

Reasoning → Synthesizing 同时覆盖正常回复与推理超时后的兜底话术。

# 单写者

Machine 只能由拥有会话的编排协程修改；State() 可被任意协程并发读取。

# 轮次

BeginTurn 只有在上一轮进入 Completed 或 Aborted 后才会成功，
轮次序号从 1 开始严格递增、无间断。只有 Completed 的轮次会进入
ConversationContext。
*/
package session
