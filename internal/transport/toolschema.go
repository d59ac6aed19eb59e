// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package transport wires the telephony and browser websocket endpoints to
// one call's C1-C5 components. toolschema.go holds the §4.4 tool table as
// the session.update payload the realtime model needs in order to call
// them; setup.go resolves the per-call configuration every other file
// shares.
package transport

import (
	"encoding/json"

	"github.com/rapidaai/callcore/internal/realtime"
)

func rawSchema(properties, required string) json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":` + properties + `,"required":` + required + `}`)
}

// ToolSchemas returns the fixed set of six model-callable tools (§4.4), in
// the shape realtime.SessionConfig.Tools expects on session.update.
func ToolSchemas() []realtime.ToolSchema {
	return []realtime.ToolSchema{
		{
			Name:        "hang_up",
			Description: "End the call. Use when the conversation is complete or the caller reached voicemail.",
			Parameters: rawSchema(
				`{"reason":{"type":"string","description":"end_of_call or answering_machine"}}`,
				`["reason"]`,
			),
		},
		{
			Name:        "cancel_hang_up",
			Description: "Cancel a previously requested hang up, continuing the call.",
			Parameters:  rawSchema(`{}`, `[]`),
		},
		{
			Name:        "query_documents",
			Description: "Answer a question using the knowledge base documents attached to this call.",
			Parameters: rawSchema(
				`{"query":{"type":"string","description":"the caller's question"}}`,
				`["query"]`,
			),
		},
		{
			Name:        "send_text_message",
			Description: "Send the caller a text message (SMS on telephony calls, an in-page notice on browser calls).",
			Parameters: rawSchema(
				`{"message":{"type":"string"}}`,
				`["message"]`,
			),
		},
		{
			Name:        "transfer_call",
			Description: "Transfer the call to a configured destination.",
			Parameters: rawSchema(
				`{"phone_number_label":{"type":"string","description":"one of the configured transfer destinations"}}`,
				`["phone_number_label"]`,
			),
		},
		{
			Name:        "enter_keypad",
			Description: "Send DTMF digits on behalf of the caller to navigate an IVR menu.",
			Parameters: rawSchema(
				`{"digits":{"type":"string","description":"digits 0-9, *, #"}}`,
				`["digits"]`,
			),
		},
	}
}
