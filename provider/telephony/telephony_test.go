package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/types"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	raw := `{"event":"start","sequenceNumber":"1","start":{"streamSid":"MZ1","callSid":"CA1","accountSid":"AC1",
		"tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1},
		"customParameters":{"customer":"42"}},"streamSid":"MZ1"}`
	msg, err := DecodeMessage([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, EventStart, msg.Event)

	info := callInfo(msg)
	assert.Equal(t, "MZ1", info.StreamSID)
	assert.Equal(t, "CA1", info.CallSID)
	assert.Equal(t, types.EncodingMulaw, info.Encoding)
	assert.Equal(t, 8000, info.SampleRate)
	assert.Equal(t, "42", info.Parameters["customer"])

	_, err = DecodeMessage([]byte(`{"streamSid":"MZ1"}`))
	assert.Error(t, err)
	_, err = DecodeMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestMediaRoundTrip(t *testing.T) {
	frame := types.AudioFrame{Data: []byte{0xff, 0x7f, 0x00}, Encoding: types.EncodingMulaw, SampleRate: 8000}
	data, err := EncodeMedia("MZ1", frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"media","streamSid":"MZ1","media":{"payload":"/38A"}}`, string(data))

	msg, err := DecodeMessage(data)
	require.NoError(t, err)
	msg.Media.Chunk = "7"
	got, err := DecodeMedia(msg, CallInfo{Encoding: types.EncodingMulaw, SampleRate: 8000}, 0)
	require.NoError(t, err)
	assert.Equal(t, frame.Data, got.Data)
	assert.Equal(t, int64(7), got.Seq)

	_, err = DecodeMedia(Message{Event: EventMedia, Media: &MediaPayload{Payload: "%%%"}}, CallInfo{}, 0)
	assert.Error(t, err)
}

func twilioMessage(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// 模拟 Twilio：connected → start → 2 个 media → 等待回声与 mark → dtmf → stop。
func TestAdapter_BridgesCallLeg(t *testing.T) {
	var digits []string
	var digitsMu sync.Mutex
	adapter := NewAdapter(nil, WithDTMFHandler(func(sid, digit string) {
		digitsMu.Lock()
		defer digitsMu.Unlock()
		digits = append(digits, sid+":"+digit)
	}))

	serverDone := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r, nil)
		if err != nil {
			serverDone <- err
			return
		}
		ctx := context.Background()
		call, err := conn.Handshake(ctx)
		if err != nil {
			serverDone <- err
			return
		}
		if err := adapter.Attach(conn); err != nil {
			serverDone <- err
			return
		}
		stream, err := adapter.Start(ctx, call.StreamSID)
		if err != nil {
			serverDone <- err
			return
		}
		defer stream.Stop()

		echoed := 0
		for {
			c, err := stream.Pull(ctx)
			if err == io.EOF {
				serverDone <- nil
				return
			}
			if err != nil {
				serverDone <- err
				return
			}
			if err := stream.Push(c); err != nil {
				serverDone <- err
				return
			}
			echoed++
			if echoed == 2 {
				_ = stream.Push(provider.Chunk{Kind: provider.ChunkFlush, Text: "turn-1"})
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.CloseNow()

	send := func(v any) {
		require.NoError(t, ws.Write(ctx, websocket.MessageText, twilioMessage(t, v)))
	}
	send(Message{Event: EventConnected, Protocol: "Call", Version: "1.0.0"})
	send(Message{Event: EventStart, StreamSID: "MZ1", Start: &StartPayload{
		StreamSID: "MZ1", CallSID: "CA1",
		MediaFormat: MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
	}})
	payloads := []string{
		base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
		base64.StdEncoding.EncodeToString([]byte{4, 5, 6}),
	}
	for i, p := range payloads {
		send(Message{Event: EventMedia, StreamSID: "MZ1", Media: &MediaPayload{Chunk: string(rune('1' + i)), Payload: p}})
	}

	var got []Message
	for len(got) < 3 {
		_, data, err := ws.Read(ctx)
		require.NoError(t, err)
		msg, err := DecodeMessage(data)
		require.NoError(t, err)
		got = append(got, msg)
	}
	assert.Equal(t, EventMedia, got[0].Event)
	assert.Equal(t, payloads[0], got[0].Media.Payload)
	assert.Equal(t, "MZ1", got[0].StreamSID)
	assert.Equal(t, payloads[1], got[1].Media.Payload)
	assert.Equal(t, EventMark, got[2].Event)
	assert.Equal(t, "turn-1", got[2].Mark.Name)

	send(Message{Event: EventDTMF, StreamSID: "MZ1", DTMF: &DTMFPayload{Digit: "5"}})
	send(Message{Event: EventStop, StreamSID: "MZ1", Stop: &StopPayload{CallSID: "CA1"}})

	select {
	case err := <-serverDone:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("server did not observe stop")
	}

	digitsMu.Lock()
	assert.Equal(t, []string{"MZ1:5"}, digits)
	digitsMu.Unlock()
	assert.Eventually(t, func() bool { return adapter.Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestAdapter_StartUnknownStreamIsTransient(t *testing.T) {
	adapter := NewAdapter(nil)
	_, err := adapter.Start(context.Background(), "MZ-missing")
	assert.True(t, types.IsTransient(err))
	assert.Equal(t, provider.CapabilityTelephony, adapter.Capability())
}

func TestConn_HandshakeRejectsMediaBeforeStart(t *testing.T) {
	errc := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r, nil)
		if err != nil {
			errc <- err
			return
		}
		_, err = conn.Handshake(r.Context())
		errc <- err
		_ = conn.Close("bad handshake")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.CloseNow()

	require.NoError(t, ws.Write(ctx, websocket.MessageText,
		twilioMessage(t, Message{Event: EventMedia, Media: &MediaPayload{Payload: ""}})))

	select {
	case err := <-errc:
		assert.ErrorContains(t, err, "before start")
	case <-ctx.Done():
		t.Fatal("handshake did not fail")
	}
}
