// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
Package buffer 提供通话方向上的有界有序缓冲 TurnBuffer。

# 概述

每个会话持有一个入站（来电音频）与一个出站（合成音频）TurnBuffer。
缓冲容量在构造时固定；写满时生产者阻塞（Push）或立即收到背压信号
（TryPush）；消费者严格按到达顺序取出。任何丢弃都会计数并通过
OnDrop 回调上报，不会静默吞掉。

# 核心方法

  - Push / TryPush / Offer — 阻塞写入 / 非阻塞写入 / 满时丢弃并计数
  - Pull / TryPull         — 阻塞读取 / 非阻塞读取，关闭且为空时返回 io.EOF
  - WaitEmpty              — 等待消费者取空
  - Close / Discard        — 停止写入 / 丢弃剩余项并计数
*/
package buffer
