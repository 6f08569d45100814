// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
包 speech 提供面向通话的 STT / TTS 供应商适配器。

# 概述

每个适配器实现 provider.Adapter，为单个会话打开一个 provider.Stream。
上游服务均为请求/响应式 HTTP API，因此流在内部按作业排队：

  - STT 流：Push 累积音频帧，Push(FlushChunk) 把整段话语提交识别，
    Pull 返回 final 转写结果，随后返回 io.EOF。
  - TTS 流：Push 每个文本块提交一次合成，Final 文本块之后不再接受输入，
    Pull 按顺序返回 20ms μ-law 8kHz 音频帧，全部播完后返回 io.EOF。

Push 从不阻塞：作业队列或音频缓冲已满时返回 provider.ErrBackpressure。

# 供应商

  - DeepgramSTT      — /v1/listen，直接上传 μ-law 8kHz 原始音频
  - WhisperSTT       — /v1/audio/transcriptions，μ-law 解码后封装为 WAV 上传
  - ElevenLabsTTS    — /v1/text-to-speech/{voice}/stream，output_format=ulaw_8000
  - OpenAITTS        — /v1/audio/speech，PCM 24kHz 重采样并编码为 μ-law 8kHz

# 错误分类

HTTP 408/429/5xx 与网络错误为 transient，其余 4xx 为 fatal。
transient 错误在适配器内部按 retry.Retryer 退避重试，耗尽后才交给 Pool。

# 装配

BuildRegistry 根据 config.ProvidersConfig 按优先级构建 STT / TTS 两个
provider.Pool 并注册到 provider.Registry。
*/
package speech
