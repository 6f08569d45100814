package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/BaSui01/callflow/types"
)

// Twilio Media Streams 事件名
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
	EventStop      = "stop"
	EventClear     = "clear"
)

// Message 是 Twilio Media Streams 的一条 JSON 消息。
type Message struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
}

type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type DTMFPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

type StopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// CallInfo 是 start 事件中与会话相关的部分。
type CallInfo struct {
	StreamSID  string              `json:"stream_sid"`
	CallSID    string              `json:"call_sid"`
	AccountSID string              `json:"account_sid"`
	Encoding   types.AudioEncoding `json:"encoding"`
	SampleRate int                 `json:"sample_rate"`
	Parameters map[string]string   `json:"parameters,omitempty"`
}

// DecodeMessage parses one inbound message.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode twilio message: %w", err)
	}
	if msg.Event == "" {
		return Message{}, fmt.Errorf("decode twilio message: missing event")
	}
	return msg, nil
}

// callInfo extracts CallInfo from a start message.
func callInfo(msg Message) CallInfo {
	info := CallInfo{StreamSID: msg.StreamSID, Encoding: types.EncodingMulaw, SampleRate: 8000}
	if msg.Start == nil {
		return info
	}
	if msg.Start.StreamSID != "" {
		info.StreamSID = msg.Start.StreamSID
	}
	info.CallSID = msg.Start.CallSID
	info.AccountSID = msg.Start.AccountSID
	info.Parameters = msg.Start.CustomParameters
	if msg.Start.MediaFormat.SampleRate > 0 {
		info.SampleRate = msg.Start.MediaFormat.SampleRate
	}
	// audio/x-mulaw 是 Twilio 唯一的双向格式
	if msg.Start.MediaFormat.Encoding == "audio/x-l16" {
		info.Encoding = types.EncodingPCM16
	}
	return info
}

// DecodeMedia converts a media message into an audio frame.
func DecodeMedia(msg Message, info CallInfo, fallbackSeq int64) (types.AudioFrame, error) {
	if msg.Media == nil {
		return types.AudioFrame{}, fmt.Errorf("media event without payload")
	}
	data, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		return types.AudioFrame{}, fmt.Errorf("decode media payload: %w", err)
	}
	seq := fallbackSeq
	if n, err := strconv.ParseInt(msg.Media.Chunk, 10, 64); err == nil {
		seq = n
	}
	return types.AudioFrame{
		Seq:        seq,
		Data:       data,
		Encoding:   info.Encoding,
		SampleRate: info.SampleRate,
		Timestamp:  time.Now(),
	}, nil
}

// EncodeMedia builds an outbound media message.
func EncodeMedia(streamSID string, frame types.AudioFrame) ([]byte, error) {
	return json.Marshal(Message{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame.Data)},
	})
}

// EncodeMark builds an outbound mark message.
func EncodeMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(Message{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      &MarkPayload{Name: name},
	})
}

// EncodeClear builds an outbound clear message.
func EncodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(Message{Event: EventClear, StreamSID: streamSID})
}
