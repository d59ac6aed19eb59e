// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package transport

import (
	"encoding/json"
	"strings"

	"github.com/rapidaai/callcore/internal/calldata"
	"github.com/rapidaai/callcore/internal/config"
	"github.com/rapidaai/callcore/internal/realtime"
	"github.com/rapidaai/callcore/internal/tools"
)

// CallSetup is the per-call configuration carried on the upgrade request as
// query parameters — the equivalent of the provider's custom-parameter
// handshake (Twilio's <Stream><Parameter>, the teacher's path-encoded
// assistantId/conversationId/identifier segments), generalized to whatever
// agent deployed against this core wants to pass at call start.
type CallSetup struct {
	CallID           string
	SystemPrompt     string
	FromNumber       string
	KnowledgeBaseIDs []string
	TransferNumbers  map[string]string
}

// DispatcherConfig builds the tools.Config this call's dispatcher needs
// from the resolved setup.
func (s CallSetup) DispatcherConfig(isTelephony bool) tools.Config {
	return tools.Config{
		IsTelephony:      isTelephony,
		KnowledgeBaseIDs: s.KnowledgeBaseIDs,
		TransferNumbers:  s.TransferNumbers,
		FromNumber:       s.FromNumber,
	}
}

// ParseCallSetup reads setup fields out of a raw query string value map.
// get is *gin.Context.Query in production and a plain map lookup in tests.
func ParseCallSetup(get func(key string) string) CallSetup {
	s := CallSetup{
		CallID:       get("call_id"),
		SystemPrompt: get("system_prompt"),
		FromNumber:   get("from_number"),
	}
	if kb := get("knowledge_base_ids"); kb != "" {
		for _, id := range strings.Split(kb, ",") {
			if id = strings.TrimSpace(id); id != "" {
				s.KnowledgeBaseIDs = append(s.KnowledgeBaseIDs, id)
			}
		}
	}
	if tn := get("transfer_numbers"); tn != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(tn), &m); err == nil {
			s.TransferNumbers = m
		}
	}
	return s
}

// SessionConfig builds the realtime session.update payload from the
// model-level settings in cfg, this call's negotiated codec, and its
// system prompt.
func SessionConfig(cfg *config.RealtimeModelConfig, format calldata.AudioFormat, systemPrompt string) realtime.SessionConfig {
	return realtime.SessionConfig{
		Voice:             cfg.Voice,
		Instructions:      systemPrompt,
		InputAudioFormat:  string(format),
		OutputAudioFormat: string(format),
		InputAudioTranscription: struct {
			Model string `json:"model"`
		}{Model: cfg.TranscriptionModel},
		TurnDetection: realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         cfg.VADThreshold,
			PrefixPaddingMs:   cfg.VADPrefixPaddingMs,
			SilenceDurationMs: cfg.VADSilenceDurationMs,
		},
		Tools: ToolSchemas(),
	}
}
