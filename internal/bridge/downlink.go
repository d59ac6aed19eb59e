// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package bridge

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/callcore/internal/calldata"
	"github.com/rapidaai/callcore/internal/realtime"
)

// downlinkLoop owns everything arriving from the model: synthesized audio,
// transcripts, barge-in notifications, tool calls, and terminal response
// status (§4.3.2).
func (b *Bridge) downlinkLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-b.session.Events():
			if !ok {
				return nil
			}
			b.handleModelEvent(ctx, ev)
		}
	}
}

func (b *Bridge) handleModelEvent(ctx context.Context, ev realtime.Event) {
	switch ev.Type {
	case realtime.EventSessionUpdated:
		b.kickoff.Arm(b.now())

	case realtime.EventSpeechStarted:
		var p realtime.SpeechStartedPayload
		if err := ev.Decode(&p); err != nil {
			b.logger.Warnf("bridge: malformed speech_started: %v", err)
			return
		}
		b.handleSpeechStarted(p)

	case realtime.EventSpeechStopped:
		b.call.Audio.UserSpeaking = false
		segments := b.call.OpenSegment(calldata.SpeakerAssistant, "", b.call.Audio.TotalMs)
		if b.listener != nil {
			b.listener.PublishSpeaker(segments)
		}

	case realtime.EventAudioDelta:
		var p realtime.AudioDeltaPayload
		if err := ev.Decode(&p); err != nil {
			b.logger.Warnf("bridge: malformed audio delta: %v", err)
			return
		}
		b.handleAudioDelta(p)

	case realtime.EventTranscriptionCompleted:
		var p realtime.TranscriptionPayload
		if err := ev.Decode(&p); err != nil {
			b.logger.Warnf("bridge: malformed transcription: %v", err)
			return
		}
		b.handleTranscript(calldata.SpeakerUser, p, "transcription.completed")

	case realtime.EventAudioTranscriptDone:
		var p realtime.TranscriptionPayload
		if err := ev.Decode(&p); err != nil {
			b.logger.Warnf("bridge: malformed transcript done: %v", err)
			return
		}
		b.handleTranscript(calldata.SpeakerAssistant, p, "audio_transcript.done")

	case realtime.EventFunctionCallArgsDone:
		var p realtime.FunctionCallArgsPayload
		if err := ev.Decode(&p); err != nil {
			b.logger.Warnf("bridge: malformed function call args: %v", err)
			return
		}
		if b.tools != nil {
			b.tools.Dispatch(ctx, p)
		}

	case realtime.EventResponseDone:
		var p realtime.ResponseDonePayload
		if err := ev.Decode(&p); err == nil && p.Response.StatusDetail.Error != nil {
			b.logger.Warnf("bridge: response.done failed: %s", p.Response.StatusDetail.Error.Message)
		}

	case realtime.EventError:
		var p realtime.ErrorPayload
		if err := ev.Decode(&p); err == nil {
			b.logger.Warnf("bridge: model error event: %s", p.Error.Message)
		}
	}
}

// handleSpeechStarted applies the full speech_started contract from §4.1 and
// §4.3.2 in one place: it is both a C2 state update (flip user_speaking,
// open a new User segment, flush matching pre-speech input, cancel the
// kickoff timer) and, when the assistant was mid-playback, the barge-in half
// of the C3 state machine (§4.3.4): truncate and clear.
func (b *Bridge) handleSpeechStarted(p realtime.SpeechStartedPayload) {
	b.kickoff.Disarm()
	b.call.Audio.UserSpeaking = true
	flushed := b.call.Audio.FlushPending(p.AudioStartMs)
	if b.listener != nil {
		for _, f := range flushed {
			b.listener.PublishAudio(f.Frame)
		}
	}

	segments := b.call.OpenSegment(calldata.SpeakerUser, p.ItemID, b.call.Audio.TotalMs)
	if b.listener != nil {
		b.listener.PublishSpeaker(segments)
	}

	if b.call.Marks.Len() == 0 {
		return
	}
	if err := b.runTruncation(); err != nil {
		b.logger.Warnf("bridge: truncate on barge-in failed: %v", err)
	}
	if err := b.sendClear(); err != nil {
		b.logger.Warnf("bridge: clear on barge-in failed: %v", err)
	}
}

// handleAudioDelta forwards one synthesized audio chunk to the human
// transport, tracks it in the MarkQueue for the truncation protocol, and
// republishes it to the live listener.
func (b *Bridge) handleAudioDelta(p realtime.AudioDeltaPayload) {
	frame := decodeBase64(p.Delta)
	if frame == nil {
		return
	}
	durationMs := b.call.AudioFormat.AudioMs(len(frame))

	if b.call.Marks.LastAIItemID != p.ItemID {
		b.call.Marks.Clear()
		b.call.Marks.LastAIItemID = p.ItemID
	}
	b.call.Marks.Push(durationMs)
	b.call.Audio.TotalMs += durationMs

	if adopted := b.call.AdoptTrailingItemID(calldata.SpeakerAssistant, p.ItemID); adopted && b.listener != nil {
		b.listener.PublishSpeaker(b.call.Snapshot())
	}

	var (
		out []byte
		err error
	)
	if b.isTelephony {
		out, err = EncodeTelephonyDownlinkMedia(b.streamSID, p.Delta)
	} else {
		out, err = EncodeBrowserDownlinkMedia(p.Delta)
	}
	if err != nil {
		b.logger.Warnf("bridge: encoding downlink media failed: %v", err)
		return
	}
	if err := b.human.WriteMessage(websocket.TextMessage, out); err != nil {
		b.logger.Warnf("bridge: writing downlink media failed: %v", err)
		return
	}

	if b.isTelephony {
		markName := fmt.Sprintf("%s-%d", p.ItemID, b.call.Marks.Len())
		if markFrame, err := EncodeTelephonyMark(b.streamSID, markName); err == nil {
			_ = b.human.WriteMessage(websocket.TextMessage, markFrame)
		}
	}

	if b.listener != nil {
		b.listener.PublishAudio(frame)
	}
	if b.recorder != nil {
		b.recorder.RecordDownlink(frame)
	}
}

// handleTranscript applies the segment transcript-update rule (§4.1/§4.2):
// locate by item_id and set the transcript if it belongs to the expected
// speaker, log an anomaly if it belongs to the other speaker, or append a
// new segment when no prior segment exists for that item_id (the resolved
// open question, DESIGN.md) at total_ms/1000 at arrival time.
func (b *Bridge) handleTranscript(speaker calldata.Speaker, p realtime.TranscriptionPayload, eventName string) {
	segments, anomaly := b.call.SetTranscript(speaker, p.ItemID, p.Transcript, b.call.Audio.TotalMs)
	if anomaly {
		b.logger.Warnf("bridge: %s for item_id=%s landed on a %s segment, ignored", eventName, p.ItemID, speaker)
		return
	}
	if b.listener != nil {
		b.listener.PublishSpeaker(segments)
	}
	if !b.isTelephony {
		out, err := EncodeBrowserSpeakerSegments(segments)
		if err != nil {
			b.logger.Warnf("bridge: encoding speaker segments failed: %v", err)
			return
		}
		if err := b.human.WriteMessage(websocket.TextMessage, out); err != nil {
			b.logger.Warnf("bridge: writing speaker segments failed: %v", err)
		}
	}
}
