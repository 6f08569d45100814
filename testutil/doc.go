// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 CallFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 音频帧: VoicedFrame / SilentFrame / PatternFrame 构造 8kHz μ-law 帧，
    AssertFramesInOrder 校验出站顺序
  - 断言工具: AssertJSONEqual / AssertErrorCode / AssertContains
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: MockSTT、MockTTS（供应商适配器）与 MockAgent（对话能力），
    均支持 Builder 模式与错误注入
  - testutil/fixtures: Twilio Media Streams 消息与对话样例

# 使用示例

	stt := mocks.NewMockSTT("stt-a").WithTranscript("hello")
	tts := mocks.NewMockTTS("tts-a").WithFrames(2)
	ag := mocks.NewMockAgent().WithReply("hi there")
*/
package testutil
