// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callcore/internal/calldata"
	"github.com/rapidaai/callcore/internal/logging"
	"github.com/rapidaai/callcore/internal/realtime"
)

type fakeHumanConn struct {
	mu       sync.Mutex
	inbound  chan []byte
	outbound [][]byte
	closed   bool
}

func newFakeHumanConn() *fakeHumanConn {
	return &fakeHumanConn{inbound: make(chan []byte, 16)}
}

func (f *fakeHumanConn) push(raw []byte) { f.inbound <- raw }

func (f *fakeHumanConn) ReadMessage() (int, []byte, error) {
	raw, ok := <-f.inbound
	if !ok {
		return 0, nil, errors.New("fakeHumanConn: closed")
	}
	return websocket.TextMessage, raw, nil
}

func (f *fakeHumanConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.outbound = append(f.outbound, cp)
	return nil
}

func (f *fakeHumanConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeHumanConn) writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.outbound))
	copy(out, f.outbound)
	return out
}

type fakeListener struct {
	mu       sync.Mutex
	audio    [][]byte
	segments [][]calldata.SpeakerSegment
}

func (f *fakeListener) PublishAudio(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, payload)
}

func (f *fakeListener) PublishSpeaker(segments []calldata.SpeakerSegment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, segments)
}

type fakeTools struct {
	mu         sync.Mutex
	dispatched []realtime.FunctionCallArgsPayload
}

func (f *fakeTools) Dispatch(_ context.Context, payload realtime.FunctionCallArgsPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, payload)
}

func testLogger() logging.Logger {
	l, err := logging.New(logging.Options{Level: "error"})
	if err != nil {
		panic(err)
	}
	return l
}

// newTestModelServer simulates the realtime model endpoint, handing the
// server-side connection back to the test over connCh once upgraded.
func newTestModelServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- c
	}))
	return srv, connCh
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTestSession(t *testing.T) (*realtime.Session, *websocket.Conn, *httptest.Server) {
	t.Helper()
	srv, connCh := newTestModelServer(t)
	sess, err := realtime.Dial(context.Background(), testLogger(), wsURL(srv), "tok", realtime.SessionConfig{}, nil)
	require.NoError(t, err)
	serverConn := <-connCh
	// drain the initial session.update handshake frame
	_, _, err = serverConn.ReadMessage()
	require.NoError(t, err)
	return sess, serverConn, srv
}

// TestBridge_TruncationProtocol_MarkQueueArithmetic reproduces the exact
// numeric example from §4.3.3/S2: mark queue [200,200,200], the first chunk
// already acknowledged, 50ms elapsed into the second chunk's playback ->
// audio_end_ms must be 250.
func TestBridge_TruncationProtocol_MarkQueueArithmetic(t *testing.T) {
	sess, serverConn, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	call := calldata.New("call-1", calldata.DirectionInbound, calldata.FormatG711ULaw)
	b := New(call, sess, newFakeHumanConn(), nil, nil, testLogger(), Options{IsTelephony: true})

	b.call.Marks.LastAIItemID = "item-1"
	b.call.Marks.Push(200)
	b.call.Marks.Push(200)
	b.call.Marks.Push(200)

	b.now = func() int64 { return 1000 }
	b.handleMarkAck() // acks the first 200ms chunk

	assert.Equal(t, 200, b.call.Marks.MarkQueueElapsedMs)
	assert.Equal(t, int64(1000), b.call.Marks.InterMarkStartMs)

	b.now = func() int64 { return 1050 }
	require.NoError(t, b.runTruncation())

	_, raw, err := serverConn.ReadMessage()
	require.NoError(t, err)
	var got struct {
		Type       string `json:"type"`
		ItemID     string `json:"item_id"`
		AudioEndMs int    `json:"audio_end_ms"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "conversation.item.truncate", got.Type)
	assert.Equal(t, "item-1", got.ItemID)
	assert.Equal(t, 250, got.AudioEndMs)

	assert.Equal(t, 0, b.call.Marks.Len())
	assert.Equal(t, "", b.call.Marks.LastAIItemID)
}

func TestBridge_RunTruncation_NoOpWhenNoAssistantTurnInFlight(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	call := calldata.New("call-2", calldata.DirectionInbound, calldata.FormatPCM16)
	b := New(call, sess, newFakeHumanConn(), nil, nil, testLogger(), Options{})
	assert.NoError(t, b.runTruncation())
}

func TestBridge_HandleSpeechStarted_TruncatesAndClears(t *testing.T) {
	sess, serverConn, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	human := newFakeHumanConn()
	listener := &fakeListener{}
	call := calldata.New("call-3", calldata.DirectionInbound, calldata.FormatG711ULaw)
	b := New(call, sess, human, listener, nil, testLogger(), Options{IsTelephony: true})
	b.streamSID = "stream-1"
	b.now = func() int64 { return 5000 }

	b.call.Marks.LastAIItemID = "item-9"
	b.call.Marks.Push(300)

	b.handleSpeechStarted(realtime.SpeechStartedPayload{ItemID: "item-10", AudioStartMs: 0})

	_, raw, err := serverConn.ReadMessage()
	require.NoError(t, err)
	var got struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "conversation.item.truncate", got.Type)

	writes := human.writes()
	require.Len(t, writes, 1)
	var clearFrame struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
	}
	require.NoError(t, json.Unmarshal(writes[0], &clearFrame))
	assert.Equal(t, "clear", clearFrame.Event)
	assert.Equal(t, "stream-1", clearFrame.StreamSID)

	assert.True(t, b.call.Audio.UserSpeaking)
	require.Len(t, listener.segments, 1)
	require.Len(t, listener.segments[0], 1)
	assert.Equal(t, calldata.SpeakerUser, listener.segments[0][0].Speaker)
	assert.Equal(t, "item-10", listener.segments[0][0].ItemID)
}

func TestBridge_HandleSpeechStarted_NoClearWhenQueueAlreadyEmpty(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	human := newFakeHumanConn()
	call := calldata.New("call-4", calldata.DirectionInbound, calldata.FormatPCM16)
	b := New(call, sess, human, nil, nil, testLogger(), Options{})

	b.handleSpeechStarted(realtime.SpeechStartedPayload{ItemID: "item-1", AudioStartMs: 0})
	assert.Empty(t, human.writes())
}

func TestBridge_HandleAudioDelta_TracksMarkQueueAndWritesFrames(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	human := newFakeHumanConn()
	listener := &fakeListener{}
	call := calldata.New("call-5", calldata.DirectionInbound, calldata.FormatG711ULaw)
	b := New(call, sess, human, listener, nil, testLogger(), Options{IsTelephony: true})
	b.streamSID = "stream-5"

	raw := make([]byte, 1600) // 1600 bytes @ 8kHz/1 byte-per-sample = 200ms
	b.handleAudioDelta(realtime.AudioDeltaPayload{ItemID: "item-1", Delta: encodeBase64(raw)})

	assert.Equal(t, "item-1", b.call.Marks.LastAIItemID)
	assert.Equal(t, 1, b.call.Marks.Len())
	assert.Equal(t, 200, b.call.Audio.TotalMs)

	writes := human.writes()
	require.Len(t, writes, 2) // media frame + mark frame (telephony)
	var media struct {
		Event string `json:"event"`
	}
	require.NoError(t, json.Unmarshal(writes[0], &media))
	assert.Equal(t, "media", media.Event)
	var mark struct {
		Event string `json:"event"`
	}
	require.NoError(t, json.Unmarshal(writes[1], &mark))
	assert.Equal(t, "mark", mark.Event)

	require.Len(t, listener.audio, 1)
	assert.Equal(t, raw, listener.audio[0])
}

func TestBridge_HandleAudioDelta_NewItemResetsMarkQueue(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	human := newFakeHumanConn()
	call := calldata.New("call-6", calldata.DirectionInbound, calldata.FormatG711ULaw)
	b := New(call, sess, human, nil, nil, testLogger(), Options{})

	b.call.Marks.LastAIItemID = "item-old"
	b.call.Marks.Push(500)

	raw := make([]byte, 800)
	b.handleAudioDelta(realtime.AudioDeltaPayload{ItemID: "item-new", Delta: encodeBase64(raw)})

	assert.Equal(t, "item-new", b.call.Marks.LastAIItemID)
	assert.Equal(t, 1, b.call.Marks.Len())
}

func TestBridge_HandleUplinkMedia_PreSpeechFramesBufferedNotPublishedOrCounted(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	listener := &fakeListener{}
	call := calldata.New("call-11", calldata.DirectionInbound, calldata.FormatG711ULaw)
	b := New(call, sess, newFakeHumanConn(), listener, nil, testLogger(), Options{IsTelephony: true})

	raw := make([]byte, 1600) // 200ms @ 8kHz g711
	b.handleUplinkMedia(encodeBase64(raw))

	assert.Equal(t, 0, b.call.Audio.TotalMs)
	assert.Empty(t, listener.audio)
	require.Len(t, b.call.Audio.PendingInput, 1)
	assert.Equal(t, 200, b.call.Audio.PendingInput[0].DurationMs)
}

func TestBridge_HandleUplinkMedia_InSpeechFramesCountedAndPublished(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	listener := &fakeListener{}
	call := calldata.New("call-12", calldata.DirectionInbound, calldata.FormatG711ULaw)
	b := New(call, sess, newFakeHumanConn(), listener, nil, testLogger(), Options{IsTelephony: true})
	b.call.Audio.UserSpeaking = true

	raw := make([]byte, 1600)
	b.handleUplinkMedia(encodeBase64(raw))

	assert.Equal(t, 200, b.call.Audio.TotalMs)
	require.Len(t, listener.audio, 1)
	assert.Equal(t, raw, listener.audio[0])
	assert.Empty(t, b.call.Audio.PendingInput)
}

func TestBridge_HandleSpeechStarted_PublishesFlushedPendingFramesToListener(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	human := newFakeHumanConn()
	listener := &fakeListener{}
	call := calldata.New("call-13", calldata.DirectionInbound, calldata.FormatG711ULaw)
	b := New(call, sess, human, listener, nil, testLogger(), Options{IsTelephony: true})

	raw1 := make([]byte, 1600)
	raw2 := make([]byte, 1600)
	b.handleUplinkMedia(encodeBase64(raw1))
	b.handleUplinkMedia(encodeBase64(raw2))
	require.Len(t, b.call.Audio.PendingInput, 2)
	assert.Empty(t, listener.audio)

	b.handleSpeechStarted(realtime.SpeechStartedPayload{ItemID: "item-20", AudioStartMs: 0})

	require.Len(t, listener.audio, 2)
	assert.Equal(t, raw1, listener.audio[0])
	assert.Equal(t, raw2, listener.audio[1])
	assert.Empty(t, b.call.Audio.PendingInput)
	assert.Equal(t, 400, b.call.Audio.TotalMs)
}

func TestBridge_HandleTranscript_ForwardsSpeakerSegmentsToBrowserHuman(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	human := newFakeHumanConn()
	listener := &fakeListener{}
	call := calldata.New("call-14", calldata.DirectionBrowser, calldata.FormatPCM16)
	b := New(call, sess, human, listener, nil, testLogger(), Options{IsTelephony: false})
	b.call.Audio.TotalMs = 1000

	b.handleTranscript(calldata.SpeakerUser, realtime.TranscriptionPayload{ItemID: "item-30", Transcript: "hi there"}, "transcription.completed")

	writes := human.writes()
	require.Len(t, writes, 1)
	var got struct {
		Event string `json:"event"`
		Data  []struct {
			ItemID     string  `json:"itemId"`
			Transcript string  `json:"transcript"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(writes[0], &got))
	assert.Equal(t, "speaker_segments", got.Event)
}

func TestBridge_HandleTranscript_TelephonyDoesNotWriteToHuman(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	human := newFakeHumanConn()
	listener := &fakeListener{}
	call := calldata.New("call-15", calldata.DirectionInbound, calldata.FormatG711ULaw)
	b := New(call, sess, human, listener, nil, testLogger(), Options{IsTelephony: true})

	b.handleTranscript(calldata.SpeakerUser, realtime.TranscriptionPayload{ItemID: "item-31", Transcript: "hi"}, "transcription.completed")

	assert.Empty(t, human.writes())
	require.Len(t, listener.segments, 1)
}

func TestBridge_HandleTranscript_PublishesSnapshotWithTotalMsTimestamp(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	listener := &fakeListener{}
	call := calldata.New("call-7", calldata.DirectionInbound, calldata.FormatPCM16)
	b := New(call, sess, newFakeHumanConn(), listener, nil, testLogger(), Options{})
	b.call.Audio.TotalMs = 2500

	b.handleTranscript(calldata.SpeakerUser, realtime.TranscriptionPayload{ItemID: "item-1", Transcript: "hello there"}, "transcription.completed")

	require.Len(t, listener.segments, 1)
	require.Len(t, listener.segments[0], 1)
	assert.Equal(t, 2.5, listener.segments[0][0].Timestamp)
	assert.Equal(t, "hello there", listener.segments[0][0].Transcript)
	assert.Equal(t, calldata.SpeakerUser, listener.segments[0][0].Speaker)
}

func TestBridge_HandleTranscript_AnomalyDoesNotPublish(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	listener := &fakeListener{}
	call := calldata.New("call-7b", calldata.DirectionInbound, calldata.FormatPCM16)
	b := New(call, sess, newFakeHumanConn(), listener, nil, testLogger(), Options{})
	b.call.OpenSegment(calldata.SpeakerAssistant, "item-1", 0)

	b.handleTranscript(calldata.SpeakerUser, realtime.TranscriptionPayload{ItemID: "item-1", Transcript: "oops"}, "transcription.completed")

	assert.Empty(t, listener.segments)
	assert.Equal(t, "", b.call.Segments[0].Transcript)
}

func TestBridge_HandleAudioDelta_AdoptsAssistantPlaceholderItemID(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	listener := &fakeListener{}
	call := calldata.New("call-7c", calldata.DirectionInbound, calldata.FormatPCM16)
	b := New(call, sess, newFakeHumanConn(), listener, nil, testLogger(), Options{})
	b.call.OpenSegment(calldata.SpeakerAssistant, "", 0)

	raw := make([]byte, 2400) // 24kHz/2 bytes-per-sample => 50ms
	b.handleAudioDelta(realtime.AudioDeltaPayload{ItemID: "item-42", Delta: encodeBase64(raw)})

	require.Len(t, b.call.Segments, 1)
	assert.Equal(t, "item-42", b.call.Segments[0].ItemID)
	require.NotEmpty(t, listener.segments)
}

func TestBridge_OnHumanGone_SetsUserHangupCauseOnce(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	call := calldata.New("call-8", calldata.DirectionInbound, calldata.FormatPCM16)
	b := New(call, sess, newFakeHumanConn(), nil, nil, testLogger(), Options{})

	b.onHumanGone()
	cause, set := b.call.TerminationCause()
	require.True(t, set)
	assert.Equal(t, calldata.CauseUserHangup, cause)

	// Already set: a tool-triggered cause should not be clobbered.
	b.call.ClearTerminationCause()
	b.call.SetTerminationCause(calldata.CauseTransferred)
	b.onHumanGone()
	cause, _ = b.call.TerminationCause()
	assert.Equal(t, calldata.CauseTransferred, cause)
}

func TestBridge_HandleMarkAck_DrainsQueueInOrder(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()
	defer sess.Close()

	call := calldata.New("call-9", calldata.DirectionInbound, calldata.FormatPCM16)
	b := New(call, sess, newFakeHumanConn(), nil, nil, testLogger(), Options{})
	b.call.Marks.Push(100)
	b.call.Marks.Push(150)

	b.now = func() int64 { return 10 }
	b.handleMarkAck()
	assert.Equal(t, 100, b.call.Marks.MarkQueueElapsedMs)
	assert.Equal(t, int64(10), b.call.Marks.InterMarkStartMs)

	b.now = func() int64 { return 20 }
	b.handleMarkAck()
	assert.Equal(t, 250, b.call.Marks.MarkQueueElapsedMs)
	assert.Equal(t, int64(0), b.call.Marks.InterMarkStartMs) // queue drained

	b.handleMarkAck() // already empty: no-op, must not panic
}

func TestKickoffTimer_ArmsFiresOnceAndDisarms(t *testing.T) {
	k := &kickoffTimer{armDelayMs: 500}
	assert.False(t, k.shouldFire(1000))

	k.Arm(1000)
	assert.False(t, k.shouldFire(1499))
	assert.True(t, k.shouldFire(1500))

	k.markFired()
	assert.False(t, k.shouldFire(5000)) // fires at most once

	k2 := &kickoffTimer{armDelayMs: 500}
	k2.Arm(1000)
	k2.Disarm()
	assert.False(t, k2.shouldFire(2000))
}

func TestBridge_Run_UplinkHangupTerminatesBothLoops(t *testing.T) {
	sess, _, srv := dialTestSession(t)
	defer srv.Close()

	human := newFakeHumanConn()
	call := calldata.New("call-10", calldata.DirectionBrowser, calldata.FormatPCM16)
	b := New(call, sess, human, nil, nil, testLogger(), Options{IsTelephony: false})

	human.push([]byte(`{"event":"hangup"}`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := b.Run(ctx)
	assert.NoError(t, err)

	cause, set := b.call.TerminationCause()
	require.True(t, set)
	assert.Equal(t, calldata.CauseUserHangup, cause)
}
