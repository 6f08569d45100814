// Package config 提供 CallFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 CALLFLOW_）的顺序叠加，
// 覆盖 HTTP 服务、通话编排时序、语音供应商池、Agent、持久化与遥测。
package config
