// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package bridge

import (
	"context"
	"encoding/base64"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/callcore/internal/calldata"
	"github.com/rapidaai/callcore/internal/logging"
	"github.com/rapidaai/callcore/internal/realtime"
)

// HumanConn is the minimal surface the bridge needs from the human-side
// websocket connection. *websocket.Conn satisfies it directly.
type HumanConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ListenerPublisher fans out audio/speaker/call_end events to the live
// listener subscriber (C5's queue).
type ListenerPublisher interface {
	PublishAudio(payload []byte)
	PublishSpeaker(segments []calldata.SpeakerSegment)
}

// ToolDispatcher handles response.function_call_arguments.done events (C4).
type ToolDispatcher interface {
	Dispatch(ctx context.Context, payload realtime.FunctionCallArgsPayload)
}

// AudioRecorder mirrors *recorder.Recorder — kept as its own narrow
// interface here so the bridge package never imports internal/recorder
// directly. Optional: a call with no recorder attached simply isn't taped.
type AudioRecorder interface {
	RecordUplink(raw []byte)
	RecordDownlink(raw []byte)
}

// Bridge wires one call's uplink and downlink goroutines together (C3). It
// owns the MarkQueue / playback state machine (§4.3.4) and the truncation
// protocol (§4.3.3).
type Bridge struct {
	call    *calldata.Call
	session *realtime.Session
	human   HumanConn
	logger  logging.Logger

	isTelephony bool
	streamSID   string

	listener ListenerPublisher
	tools    ToolDispatcher
	recorder AudioRecorder

	kickoff *kickoffTimer

	// now is injectable for deterministic truncation-protocol tests.
	now func() int64
}

// Options configures a Bridge.
type Options struct {
	IsTelephony bool
	// StartSpeakingBufferMs, if > 0, arms the kickoff timer (S3): after this
	// many wallclock ms with no human audio following session.updated, the
	// bridge calls Session.SendKickoff once.
	StartSpeakingBufferMs int
}

// New constructs a Bridge for one call.
func New(call *calldata.Call, session *realtime.Session, human HumanConn, listener ListenerPublisher, tools ToolDispatcher, logger logging.Logger, opts Options) *Bridge {
	b := &Bridge{
		call:        call,
		session:     session,
		human:       human,
		logger:      logger,
		isTelephony: opts.IsTelephony,
		listener:    listener,
		tools:       tools,
		now:         func() int64 { return time.Now().UnixMilli() },
	}
	if opts.StartSpeakingBufferMs > 0 {
		b.kickoff = &kickoffTimer{armDelayMs: opts.StartSpeakingBufferMs}
	}
	return b
}

// SetRecorder attaches an audio recorder. Must be called before Run; nil is
// safe and simply disables taping for this call.
func (b *Bridge) SetRecorder(rec AudioRecorder) {
	b.recorder = rec
}

// Run starts the uplink and downlink goroutines and blocks until both exit,
// per §4.3: "both must exit before the call can transition to Closed."
func (b *Bridge) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.uplinkLoop(gCtx) })
	g.Go(func() error { return b.downlinkLoop(gCtx) })
	g.Go(func() error { return b.kickoffLoop(gCtx) })
	return g.Wait()
}

func decodeBase64(b64 string) []byte {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil
	}
	return data
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
