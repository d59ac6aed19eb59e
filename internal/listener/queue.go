// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package listener implements C5: the per-call live-listener fan-out queue
// and the idempotent call termination routine.
package listener

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/zaf/g711"

	"github.com/rapidaai/callcore/internal/calldata"
)

// Message is the listener's newline-delimited-JSON wire shape (§4.5.1).
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type queuedMsg struct {
	kind string // "audio", "speaker", "call_end" — only "audio" is ever dropped
	line []byte
}

// Queue is the bounded, best-effort, single-consumer fan-out queue for one
// call's live listener. Audio is dropped from the head under backpressure;
// speaker updates and the call_end sentinel are never dropped (§4.5.1).
type Queue struct {
	format   calldata.AudioFormat
	capacity int

	mu     sync.Mutex
	items  []queuedMsg
	closed bool
	signal chan struct{}
}

// NewQueue constructs a listener queue for a call using the given audio
// codec (determines whether PublishAudio transcodes to PCM16) and a bounded
// capacity.
func NewQueue(format calldata.AudioFormat, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{format: format, capacity: capacity, signal: make(chan struct{}, 1)}
}

// PublishAudio re-encodes one frame for the listener: μ-law sources are
// transcoded to 16-bit linear PCM before base64 encoding; PCM16 sources pass
// through (§4.5.1 Serialization).
func (q *Queue) PublishAudio(payload []byte) {
	pcm := payload
	switch q.format {
	case calldata.FormatG711ULaw:
		pcm = g711.Ulaw2Lin(payload)
	case calldata.FormatG711ALaw:
		pcm = g711.Alaw2Lin(payload)
	}
	line, err := buildLine("audio", base64.StdEncoding.EncodeToString(pcm))
	if err != nil {
		return
	}
	q.push(queuedMsg{kind: "audio", line: line})
}

// PublishSpeaker pushes the full segment snapshot as a "speaker" message.
// Never dropped.
func (q *Queue) PublishSpeaker(segments []calldata.SpeakerSegment) {
	line, err := buildLine("speaker", segments)
	if err != nil {
		return
	}
	q.push(queuedMsg{kind: "speaker", line: line})
}

// Terminate pushes the terminal call_end sentinel and marks the queue
// closed: once the consumer drains everything already queued, Next reports
// no more messages (§4.5.2 step 3, S6).
func (q *Queue) Terminate() {
	line, err := buildLine("call_end", nil)
	if err == nil {
		q.push(queuedMsg{kind: "call_end", line: line})
	}
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Next blocks until a message is available, the queue is closed and
// drained (ok=false), or ctx is done (ok=false).
func (q *Queue) Next(ctx context.Context) (line []byte, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item.line, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *Queue) push(msg queuedMsg) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.items) >= q.capacity {
		q.dropOldestAudioLocked()
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.wake()
}

// dropOldestAudioLocked removes the first "audio"-kind entry to make room.
// If none exists (queue is all speaker/call_end, which this core never
// drops), the queue is allowed to grow by one rather than drop anything.
func (q *Queue) dropOldestAudioLocked() {
	for i := range q.items {
		if q.items[i].kind == "audio" {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func buildLine(kind string, data interface{}) ([]byte, error) {
	b, err := json.Marshal(Message{Type: kind, Data: data})
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
