// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package realtime implements C1, the Realtime Model Session: the
// persistent full-duplex connection to the upstream speech-to-speech model.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/callcore/internal/logging"
)

// TurnDetection mirrors the model's server-side VAD configuration. Defaults
// (0.5 / 300ms / 500ms) match the source system's historical configuration.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// DefaultTurnDetection returns the spec-mandated defaults.
func DefaultTurnDetection() TurnDetection {
	return TurnDetection{
		Type:              "server_vad",
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
	}
}

// ToolSchema describes one model-callable tool (§4.4) in the shape the
// session.update message expects.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// SessionConfig is the payload of the single session.update sent on open.
type SessionConfig struct {
	Voice                 string         `json:"voice"`
	Instructions          string         `json:"instructions"`
	InputAudioFormat      string         `json:"input_audio_format"`
	OutputAudioFormat     string         `json:"output_audio_format"`
	InputAudioTranscription struct {
		Model string `json:"model"`
	} `json:"input_audio_transcription"`
	TurnDetection TurnDetection `json:"turn_detection"`
	Tools         []ToolSchema  `json:"tools,omitempty"`
}

// Session owns the upstream websocket connection for exactly one call.
type Session struct {
	logger logging.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan Event
	done   chan struct{}
	closeOnce sync.Once

	// onEvent, when set, is invoked synchronously for every decoded event
	// before it is also placed on the events channel — used by the session
	// log writer (§4.1: "each event is also appended to the session log
	// file ... fire-and-forget").
	onEvent func(raw []byte, ts time.Time)
}

// Dial establishes the bearer-authenticated websocket connection and sends
// the initial session.update. endpoint and bearerToken come from
// config.RealtimeModelConfig.
func Dial(ctx context.Context, logger logging.Logger, endpoint, bearerToken string, cfg SessionConfig, onEvent func(raw []byte, ts time.Time)) (*Session, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+bearerToken)

	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial failed: %w", err)
	}
	conn.SetReadLimit(10 * 1024 * 1024)
	conn.SetPongHandler(func(string) error { return nil })

	s := &Session{
		logger:  logger,
		conn:    conn,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		onEvent: onEvent,
	}

	if err := s.send("session.update", cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("realtime: sending session.update: %w", err)
	}

	go s.readLoop()

	return s, nil
}

// Events returns the channel of decoded inbound events. It is closed when
// the upstream connection closes or Close is called.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) readLoop() {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warnf("realtime: read error: %v", err)
			}
			return
		}

		if s.onEvent != nil {
			s.onEvent(raw, time.Now())
		}

		var env struct {
			Type EventType `json:"type"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logger.Warnf("realtime: malformed event skipped: %v", err)
			continue
		}

		select {
		case s.events <- Event{Type: env.Type, Raw: raw}:
		case <-s.done:
			return
		}
	}
}

// send marshals data's fields alongside a top-level "type" tag, matching the
// realtime model's flat event envelope (fields are siblings of "type", not
// nested under a "data" key).
func (s *Session) send(eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("realtime: marshal %s: %w", eventType, err)
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(payload, &merged); err != nil {
		return fmt.Errorf("realtime: remarshal %s: %w", eventType, err)
	}
	merged["type"] = json.RawMessage(fmt.Sprintf("%q", eventType))
	out, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("realtime: marshal envelope %s: %w", eventType, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("realtime: connection is closed")
	}
	return s.conn.WriteMessage(websocket.TextMessage, out)
}

// SendAudio enqueues input_audio_buffer.append. Non-blocking from the
// caller's perspective: the gorilla/websocket write is synchronous but the
// uplink goroutine is the only writer of audio, so no queueing is needed.
func (s *Session) SendAudio(b64Frame string) error {
	return s.send("input_audio_buffer.append", struct {
		Audio string `json:"audio"`
	}{Audio: b64Frame})
}

// SendTruncate enqueues conversation.item.truncate (§4.3.3).
func (s *Session) SendTruncate(itemID string, audioEndMs int) error {
	return s.send("conversation.item.truncate", struct {
		ItemID       string `json:"item_id"`
		ContentIndex int    `json:"content_index"`
		AudioEndMs   int    `json:"audio_end_ms"`
	}{ItemID: itemID, ContentIndex: 0, AudioEndMs: audioEndMs})
}

// SendToolResult enqueues a function_call_output item, positioned right
// after previousItemID (the function_call item itself), followed by
// response.create to prompt continuation (§4.1).
func (s *Session) SendToolResult(previousItemID, callID, output string) error {
	if err := s.send("conversation.item.create", struct {
		PreviousItemID string `json:"previous_item_id,omitempty"`
		Item           struct {
			Type   string `json:"type"`
			CallID string `json:"call_id"`
			Output string `json:"output"`
		} `json:"item"`
	}{PreviousItemID: previousItemID, Item: struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Output string `json:"output"`
	}{Type: "function_call_output", CallID: callID, Output: output}}); err != nil {
		return err
	}
	return s.send("response.create", struct{}{})
}

// SendKickoff sends response.create to make the model speak first. The
// resolved open question (DESIGN.md) is response.create, not a pre-scripted
// conversation.item.create user message.
func (s *Session) SendKickoff() error {
	return s.send("response.create", struct{}{})
}

// Close shuts down the connection idempotently.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			err = s.conn.Close()
			s.conn = nil
		}
		s.writeMu.Unlock()
	})
	return err
}
