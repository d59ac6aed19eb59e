// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package realtime

import "encoding/json"

// EventType enumerates the model event tags the core dispatches on (§4.1).
type EventType string

const (
	EventSpeechStarted          EventType = "input_audio_buffer.speech_started"
	EventSpeechStopped          EventType = "input_audio_buffer.speech_stopped"
	EventAudioDelta             EventType = "response.audio.delta"
	EventTranscriptionCompleted EventType = "conversation.item.input_audio_transcription.completed"
	EventAudioTranscriptDone    EventType = "response.audio_transcript.done"
	EventFunctionCallArgsDone   EventType = "response.function_call_arguments.done"
	EventSessionUpdated         EventType = "session.updated"
	EventResponseDone           EventType = "response.done"
	EventError                  EventType = "error"
)

// Event is the generic envelope every inbound model message is decoded into
// first; the dispatcher re-decodes Raw into the type-specific payload it
// needs for the tag in Type (§9 "dynamic dict event payloads -> typed
// variants").
type Event struct {
	Type EventType       `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// SpeechStartedPayload carries the model's reported buffer offset so the
// uplink can flush exactly the pre-speech frames the model actually heard
// (§3 AudioBookkeeping invariant, I5).
type SpeechStartedPayload struct {
	ItemID       string `json:"item_id"`
	AudioStartMs int    `json:"audio_start_ms"`
}

// AudioDeltaPayload is one chunk of synthesized speech.
type AudioDeltaPayload struct {
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"` // base64
}

// TranscriptionPayload covers both transcription.completed (user) and
// audio_transcript.done (assistant) — same shape, different event tag.
type TranscriptionPayload struct {
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// FunctionCallArgsPayload is forwarded verbatim to the tool dispatcher (C4).
type FunctionCallArgsPayload struct {
	ItemID    string `json:"item_id"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ResponseDonePayload reports terminal response status; a failed status is
// logged but never terminates the call (§4.1).
type ResponseDonePayload struct {
	Response struct {
		Status       string `json:"status"`
		StatusDetail struct {
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"status_details"`
	} `json:"response"`
}

// ErrorPayload is the top-level "error" event shape.
type ErrorPayload struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Decode unmarshals Raw into v for a specific payload type.
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Raw, v)
}
