// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
Package provider 定义语音/电话供应商适配器契约与供应商池。

# 概述

每个 Adapter 包装一个外部服务实例，变体固定为 STT、TTS、Telephony。
Adapter.Start 为一个会话打开 Stream，Stream 提供 Push / Pull / Stop：
Push 立即接受或返回 ErrBackpressure，Pull 阻塞直到有数据、结束（io.EOF）
或 ctx 取消。

# 供应商池

Pool 按优先级排列同一能力的适配器并维护健康状态：

  - Healthy → Degraded：1 次失败
  - Degraded → Unhealthy：连续 3 次失败（fatal 失败直接 Unhealthy）
  - 任意 → Healthy：1 次成功

Acquire 跳过 Unhealthy 适配器；全部 Unhealthy 时，每个 Attempt 最多将
最早失败的适配器重置为 Degraded 并重试一次，否则返回 NoProviderAvailable。

# Registry

Registry 在进程启动时按配置构建，每种能力一个 Pool，由所有编排器共享。
*/
package provider
