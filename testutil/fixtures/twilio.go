// =============================================================================
// 📦 测试数据工厂 - Twilio Media Streams 消息
// =============================================================================
// 提供预定义的 WebSocket 消息，用于电话侧测试
// =============================================================================
package fixtures

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
)

// 默认测试标识
const (
	StreamSID  = "MZ00000000000000000000000000000001"
	CallSID    = "CA00000000000000000000000000000001"
	AccountSID = "AC00000000000000000000000000000001"
)

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// ConnectedMessage 返回 connected 事件
func ConnectedMessage() []byte {
	return mustMarshal(map[string]any{
		"event":    "connected",
		"protocol": "Call",
		"version":  "1.0.0",
	})
}

// StartMessage 返回 8kHz μ-law 的 start 事件
func StartMessage(streamSID, callSID string, params map[string]string) []byte {
	start := map[string]any{
		"streamSid":  streamSID,
		"accountSid": AccountSID,
		"callSid":    callSID,
		"tracks":     []string{"inbound"},
		"mediaFormat": map[string]any{
			"encoding":   "audio/x-mulaw",
			"sampleRate": 8000,
			"channels":   1,
		},
	}
	if len(params) > 0 {
		start["customParameters"] = params
	}
	return mustMarshal(map[string]any{
		"event":          "start",
		"sequenceNumber": "1",
		"streamSid":      streamSID,
		"start":          start,
	})
}

// MediaMessage 返回携带 payload 的 media 事件
func MediaMessage(streamSID string, chunk int, payload []byte) []byte {
	return mustMarshal(map[string]any{
		"event":          "media",
		"sequenceNumber": strconv.Itoa(chunk + 1),
		"streamSid":      streamSID,
		"media": map[string]any{
			"track":     "inbound",
			"chunk":     strconv.Itoa(chunk),
			"timestamp": strconv.Itoa(chunk * 20),
			"payload":   base64.StdEncoding.EncodeToString(payload),
		},
	})
}

// MarkMessage 返回 Twilio 回显的 mark 事件
func MarkMessage(streamSID, name string) []byte {
	return mustMarshal(map[string]any{
		"event":     "mark",
		"streamSid": streamSID,
		"mark":      map[string]any{"name": name},
	})
}

// DTMFMessage 返回按键事件
func DTMFMessage(streamSID, digit string) []byte {
	return mustMarshal(map[string]any{
		"event":     "dtmf",
		"streamSid": streamSID,
		"dtmf":      map[string]any{"track": "inbound_track", "digit": digit},
	})
}

// StopMessage 返回 stop 事件
func StopMessage(streamSID, callSID string) []byte {
	return mustMarshal(map[string]any{
		"event":     "stop",
		"streamSid": streamSID,
		"stop":      map[string]any{"accountSid": AccountSID, "callSid": callSID},
	})
}
