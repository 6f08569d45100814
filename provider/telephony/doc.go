// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
包 telephony 实现 Telephony-Media 适配器：Twilio Media Streams over WebSocket。

# 协议

Twilio 通过 WebSocket 推送 JSON 事件：

  - connected — 连接建立
  - start     — 通话接通，携带 streamSid / callSid / 媒体格式
  - media     — base64 编码的 μ-law 8kHz 音频块
  - mark      — 先前发送的标记已播放完毕
  - dtmf      — 按键
  - stop      — 通话结束

出站方向发送 media（音频）、mark（话语边界）与 clear（清空播放队列）。

# 使用方式

	conn, err := telephony.Accept(w, r, logger)
	call, err := conn.Handshake(ctx)          // 读到 start 为止
	adapter.Attach(conn)                      // 以 streamSid 注册
	stream, err := adapter.Start(ctx, call.StreamSID)

stream.Pull 返回入站音频帧，stop 事件后返回 io.EOF；stream.Push 接受出站
音频帧，队列满时返回 provider.ErrBackpressure；Push(FlushChunk) 发送 mark。
*/
package telephony
