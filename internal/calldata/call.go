// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package calldata holds the per-call in-memory state (Call Session State,
// C2): speaker segments, audio bookkeeping, the mark queue, and the
// termination cause. It is owned exclusively by the call's own goroutines;
// nothing outside the call mutates it directly.
package calldata

import (
	"sync"
	"time"
)

// Direction is the call's originating side.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionBrowser  Direction = "browser"
)

// AudioFormat is the codec negotiated with both the human endpoint and the
// realtime model for a given call.
type AudioFormat string

const (
	FormatPCM16     AudioFormat = "pcm16"
	FormatG711ULaw  AudioFormat = "g711_ulaw"
	FormatG711ALaw  AudioFormat = "g711_alaw"
)

// SampleRate returns the format's sample rate in Hz.
func (f AudioFormat) SampleRate() int {
	if f == FormatPCM16 {
		return 24000
	}
	return 8000
}

// BytesPerSample returns the format's byte width per sample.
func (f AudioFormat) BytesPerSample() int {
	if f == FormatPCM16 {
		return 2
	}
	return 1
}

// AudioMs computes the playback duration, in milliseconds, of a decoded
// audio frame under this format. R2: audio_ms(encode(frame)) = duration(frame).
func (f AudioFormat) AudioMs(decodedLen int) int {
	bytesPerMs := f.SampleRate() * f.BytesPerSample() / 1000
	if bytesPerMs == 0 {
		return 0
	}
	return decodedLen / bytesPerMs
}

// Speaker identifies which party a SpeakerSegment belongs to.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// SpeakerSegment is one turn's worth of (timestamp, speaker, transcript).
type SpeakerSegment struct {
	Timestamp  float64 `json:"timestamp"`
	Speaker    Speaker `json:"speaker"`
	Transcript string  `json:"transcript"`
	ItemID     string  `json:"item_id"`
}

// TerminationCause is the single enumerated reason a call ended.
type TerminationCause string

const (
	CauseEndOfCallBot  TerminationCause = "end_of_call_bot"
	CauseVoiceMailBot  TerminationCause = "voice_mail_bot"
	CauseUserHangup    TerminationCause = "user_hangup"
	CauseListenerHangup TerminationCause = "listener_hangup"
	CauseTransferred   TerminationCause = "transferred"
	CauseUnknown       TerminationCause = "unknown"
)

// PendingInputFrame is one pre-speech uplink frame buffered until the model
// reports where speech actually began.
type PendingInputFrame struct {
	Frame             []byte
	DurationMs        int
	CumulativeInputMs int
}

// MarkQueue tracks downlink audio chunks sent to the human endpoint but not
// yet acknowledged, plus the bookkeeping the truncation protocol (§4.3.3)
// needs. It is owned by the downlink goroutine.
type MarkQueue struct {
	durations          []int
	LastAIItemID       string
	MarkQueueElapsedMs int
	InterMarkStartMs   int64 // 0 means unset
}

// Push appends a newly sent downlink chunk's duration.
func (q *MarkQueue) Push(durationMs int) {
	q.durations = append(q.durations, durationMs)
}

// PopHead removes and returns the first pending duration. ok is false if the
// queue was already empty.
func (q *MarkQueue) PopHead() (durationMs int, ok bool) {
	if len(q.durations) == 0 {
		return 0, false
	}
	durationMs = q.durations[0]
	q.durations = q.durations[1:]
	return durationMs, true
}

// Head returns the first pending duration without removing it.
func (q *MarkQueue) Head() (durationMs int, ok bool) {
	if len(q.durations) == 0 {
		return 0, false
	}
	return q.durations[0], true
}

// Len reports how many unacknowledged chunks remain.
func (q *MarkQueue) Len() int { return len(q.durations) }

// Clear resets the queue and all playback bookkeeping to Idle.
func (q *MarkQueue) Clear() {
	q.durations = nil
	q.LastAIItemID = ""
	q.MarkQueueElapsedMs = 0
	q.InterMarkStartMs = 0
}

// AudioBookkeeping tracks the call's cumulative played-audio timeline and
// the pre-speech input buffer described in §3.
type AudioBookkeeping struct {
	TotalMs               int
	UserSpeaking          bool
	AudioInputBufferMs    int
	PendingInput          []PendingInputFrame
}

// FlushPending moves buffered pre-speech frames whose cumulative offset is
// at or past audioStartMs into the played timeline, discarding the rest
// (invariant I5 / §3 AudioBookkeeping).
func (b *AudioBookkeeping) FlushPending(audioStartMs int) []PendingInputFrame {
	flushed := make([]PendingInputFrame, 0, len(b.PendingInput))
	for _, f := range b.PendingInput {
		if f.CumulativeInputMs >= audioStartMs {
			flushed = append(flushed, f)
			b.TotalMs += f.DurationMs
		}
	}
	b.PendingInput = nil
	return flushed
}

// Call is the per-call session state (C2). It is a plain value mutated only
// by the call's own uplink/downlink goroutines; the listener fan-out (C5)
// only ever receives copies pushed onto its queue, never a reference to this
// struct.
type Call struct {
	ID            string
	Direction     Direction
	AudioFormat   AudioFormat
	ChannelUUID   string // provider call SID
	CallerNumber  string
	CalleeNumber  string
	FromNumber    string
	SystemPrompt  string
	InputPayload  map[string]string
	CreatedAt     time.Time

	Segments []SpeakerSegment
	Audio    AudioBookkeeping
	Marks    MarkQueue

	cause          TerminationCause
	causeSet       bool
	transferTarget string
	causeMu        sync.Mutex
}

// New constructs a fresh Call in the Active lifecycle state (first media
// frame is implicit at construction time for this in-process model).
func New(id string, direction Direction, format AudioFormat) *Call {
	return &Call{
		ID:          id,
		Direction:   direction,
		AudioFormat: format,
		CreatedAt:   time.Now(),
	}
}

// OpenSegment appends a fresh segment (empty transcript) at the given
// item_id, timestamped at totalMs/1000, and returns a snapshot of the full
// list (§4.2: speech_started opens a User segment, speech_stopped opens an
// empty-item_id Assistant placeholder).
func (c *Call) OpenSegment(speaker Speaker, itemID string, totalMs int) []SpeakerSegment {
	c.Segments = append(c.Segments, SpeakerSegment{
		Timestamp: float64(totalMs) / 1000,
		Speaker:   speaker,
		ItemID:    itemID,
	})
	return c.snapshotSegments()
}

// AdoptTrailingItemID gives the trailing segment an item_id if it is the
// given speaker and doesn't have one yet (response.audio.delta adopting the
// Assistant placeholder opened by speech_stopped, §4.1). Returns whether it
// adopted, so the caller only republishes to the listener when something
// changed.
func (c *Call) AdoptTrailingItemID(speaker Speaker, itemID string) bool {
	if len(c.Segments) == 0 {
		return false
	}
	last := &c.Segments[len(c.Segments)-1]
	if last.Speaker == speaker && last.ItemID == "" {
		last.ItemID = itemID
		return true
	}
	return false
}

// SetTranscript locates the segment by item_id and, if it belongs to the
// expected speaker, sets its transcript in place. If no segment with that
// item_id exists yet, a new one is appended at totalMs/1000 (the resolved
// open question, DESIGN.md). anomaly is true when a segment was found under
// that item_id but belongs to the other speaker (§4.1: "otherwise log an
// anomaly").
func (c *Call) SetTranscript(speaker Speaker, itemID, transcript string, totalMs int) (segments []SpeakerSegment, anomaly bool) {
	if itemID != "" {
		for i := range c.Segments {
			if c.Segments[i].ItemID == itemID {
				if c.Segments[i].Speaker != speaker {
					return c.snapshotSegments(), true
				}
				c.Segments[i].Transcript = transcript
				return c.snapshotSegments(), false
			}
		}
	}
	c.Segments = append(c.Segments, SpeakerSegment{
		Timestamp:  float64(totalMs) / 1000,
		Speaker:    speaker,
		Transcript: transcript,
		ItemID:     itemID,
	})
	return c.snapshotSegments(), false
}

// TrailingEmptyItemSegment returns a pointer to the trailing segment if it
// has an empty item id (invariant I4), else nil.
func (c *Call) TrailingEmptyItemSegment() *SpeakerSegment {
	if len(c.Segments) == 0 {
		return nil
	}
	last := &c.Segments[len(c.Segments)-1]
	if last.ItemID == "" {
		return last
	}
	return nil
}

// Snapshot returns a copy of the current segment list, safe to push onto the
// listener queue without racing the call's own goroutines.
func (c *Call) Snapshot() []SpeakerSegment { return c.snapshotSegments() }

func (c *Call) snapshotSegments() []SpeakerSegment {
	cp := make([]SpeakerSegment, len(c.Segments))
	copy(cp, c.Segments)
	return cp
}

// SetTerminationCause implements first-writer-wins (invariant I6). Returns
// true if this call set the cause (i.e., it was the first).
func (c *Call) SetTerminationCause(cause TerminationCause) bool {
	c.causeMu.Lock()
	defer c.causeMu.Unlock()
	if c.causeSet {
		return false
	}
	c.cause = cause
	c.causeSet = true
	return true
}

// ClearTerminationCause clears whatever cause is set, along with any transfer
// target. The cancel_hang_up tool calls it only when the cause is one the
// model set. It is a no-op if no cause is set.
func (c *Call) ClearTerminationCause() {
	c.causeMu.Lock()
	defer c.causeMu.Unlock()
	c.causeSet = false
	c.cause = ""
	c.transferTarget = ""
}

// TerminationCause returns the currently set cause and whether one is set.
func (c *Call) TerminationCause() (TerminationCause, bool) {
	c.causeMu.Lock()
	defer c.causeMu.Unlock()
	return c.cause, c.causeSet
}

// SetTransferred is SetTerminationCause specialized for the transfer_call
// tool (§4.4): first-writer-wins, carrying the resolved phone number as the
// cause's side data.
func (c *Call) SetTransferred(target string) bool {
	c.causeMu.Lock()
	defer c.causeMu.Unlock()
	if c.causeSet {
		return false
	}
	c.cause = CauseTransferred
	c.causeSet = true
	c.transferTarget = target
	return true
}

// TransferTarget returns the phone number resolved by transfer_call, if any.
func (c *Call) TransferTarget() string {
	c.causeMu.Lock()
	defer c.causeMu.Unlock()
	return c.transferTarget
}
