// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package bridge

import (
	"context"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/callcore/internal/calldata"
)

// uplinkLoop owns everything arriving from the human side: media frames,
// stream start, mark acknowledgments, and hangup/close (§4.3.1).
func (b *Bridge) uplinkLoop(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	// Closing the model session here, however uplink exits, unblocks
	// downlinkLoop's range over Events() promptly instead of leaving it
	// waiting on the parent context.
	defer b.session.Close()
	go func() {
		select {
		case <-ctx.Done():
			_ = b.human.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := b.human.ReadMessage()
		if err != nil {
			b.onHumanGone()
			return nil
		}

		var msg UplinkMessage
		if b.isTelephony {
			msg, err = DecodeTelephonyUplink(raw)
		} else {
			msg, err = DecodeBrowserUplink(raw)
		}
		if err != nil {
			b.logger.Warnf("bridge: malformed uplink frame ignored: %v", err)
			continue
		}

		switch msg.Event {
		case UplinkStart:
			b.streamSID = msg.StreamSID
			b.call.Marks.Clear()
		case UplinkMark:
			b.handleMarkAck()
		case UplinkHangup:
			b.onHumanGone()
			return nil
		case UplinkMedia:
			b.handleUplinkMedia(msg.Payload)
		}

		if cause, set := b.call.TerminationCause(); set && b.call.Marks.Len() == 0 {
			b.logger.Infof("bridge: call %s terminating, cause=%s", b.call.ID, cause)
			return nil
		}
	}
}

// onHumanGone runs when the human transport closes or sends an explicit
// hangup: record user_hangup (first-writer-wins, I6) and flush the
// truncation protocol so the session log reflects exactly what was heard.
func (b *Bridge) onHumanGone() {
	b.call.SetTerminationCause(calldata.CauseUserHangup)
	if err := b.runTruncation(); err != nil {
		b.logger.Warnf("bridge: truncate on hangup failed: %v", err)
	}
}

// handleUplinkMedia forwards one human audio frame to the model, buffers it
// pending the model's speech_started offset while no user speech is
// confirmed in progress (§3 AudioBookkeeping, invariant I5), and, while user
// speech is in progress, republishes it to the live listener.
func (b *Bridge) handleUplinkMedia(payloadB64 string) {
	frame := decodeBase64(payloadB64)
	if frame == nil {
		return
	}
	durationMs := b.call.AudioFormat.AudioMs(len(frame))
	cumulative := b.call.Audio.AudioInputBufferMs + durationMs
	b.call.Audio.AudioInputBufferMs = cumulative

	if b.call.Audio.UserSpeaking {
		b.call.Audio.TotalMs += durationMs
	} else {
		b.call.Audio.PendingInput = append(b.call.Audio.PendingInput, calldata.PendingInputFrame{
			Frame:             frame,
			DurationMs:        durationMs,
			CumulativeInputMs: cumulative,
		})
	}

	if err := b.session.SendAudio(payloadB64); err != nil {
		b.logger.Warnf("bridge: forwarding audio to model failed: %v", err)
	}
	if b.call.Audio.UserSpeaking && b.listener != nil {
		b.listener.PublishAudio(frame)
	}
	if b.recorder != nil {
		b.recorder.RecordUplink(frame)
	}
}

// handleMarkAck processes one playback acknowledgment: the oldest
// unacknowledged downlink chunk is now confirmed heard, advancing
// mark_queue_elapsed_time and resetting the wallclock anchor for whatever
// chunk is now at the head (§4.3.3).
func (b *Bridge) handleMarkAck() {
	d, ok := b.call.Marks.PopHead()
	if !ok {
		return
	}
	b.call.Marks.MarkQueueElapsedMs += d
	if b.call.Marks.Len() > 0 {
		b.call.Marks.InterMarkStartMs = b.now()
	} else {
		b.call.Marks.InterMarkStartMs = 0
	}
}

// sendClear writes the transport-appropriate "stop playback now" frame, sent
// on barge-in right after the truncation request.
func (b *Bridge) sendClear() error {
	var (
		frame []byte
		err   error
	)
	if b.isTelephony {
		frame, err = EncodeTelephonyClear(b.streamSID)
	} else {
		frame, err = EncodeBrowserClear()
	}
	if err != nil {
		return err
	}
	return b.human.WriteMessage(websocket.TextMessage, frame)
}
