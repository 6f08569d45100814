// Copyright (c) CallFlow Authors.
// Licensed under the MIT License.

/*
Package audio 提供通话音频的编解码与分析工具。

# 概述

电话侧媒体为 8kHz G.711 μ-law，语音供应商则可能需要 16 位 PCM 或
WAV 容器。本包负责两者之间的转换，以及基于 RMS 能量的静音判定。

# 主要能力

  - μ-law ⇄ PCM16：DecodeMulaw / EncodeMulaw
  - 能量分析：RMSEnergy / PeakAmplitude / Detector
  - 容器与重采样：EncodeWAV / ResamplePCM16
  - 分帧：FrameBytes / SplitFrames
*/
package audio
