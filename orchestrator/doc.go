// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
包 orchestrator 把一路电话音频接到 STT → Agent → TTS 流水线上。

# 对外操作

  - CreateSession       — 创建会话，返回时已处于 Listening
  - FeedInboundAudio    — 写入来电者音频帧；入站缓冲满时阻塞，超过
    OverrunTimeout 以 BUFFER_OVERRUN 结束会话
  - DrainOutboundAudio  — 按序取出合成音频；会话结束后返回 io.EOF
  - EndSession          — 幂等；宽限期内未退出的任务其租约被强制释放

# 并发模型

每个会话有一个控制协程，它是状态机的唯一写者。入站泵、STT 泵、TTS 泵
与 Agent 调用各自运行在独立协程中，只通过事件通道与控制协程通信；
事件携带绑定代号 (gen)，过期绑定的事件被直接忽略。

# 降级

  - STT 失败: 同一 Attempt 内换供应商并补发本轮已缓存音频
  - STT 无可用: 中止本轮并播报致歉语；连续 MaxConsecutiveAborts 次后播报
    转接语并结束会话
  - Agent 超时或失败: 中止本轮（不进入对话上下文），播报兜底话术
  - TTS 尚未出声即失败: 换供应商重试；全部不可用则结束会话

Agent 说话期间到达的来电者音频被丢弃并计入入站丢帧（不支持插话）。
*/
package orchestrator
