// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package realtime

import (
	"strings"

	"github.com/rapidaai/callcore/internal/calldata"
)

// AudioCodecName maps a calldata.AudioFormat onto the wire name the model
// expects for input/output audio format.
func AudioCodecName(format calldata.AudioFormat) string {
	switch format {
	case calldata.FormatPCM16:
		return "pcm16"
	case calldata.FormatG711ULaw:
		return "g711_ulaw"
	case calldata.FormatG711ALaw:
		return "g711_alaw"
	default:
		return "pcm16"
	}
}

// BuildSessionConfig assembles the single session.update payload sent on
// open: turn detection, matching codecs, voice, the instantiated system
// prompt, the transcription sub-model, and the tool schema derived from the
// agent's tool configuration (§4.1).
func BuildSessionConfig(
	voice string,
	promptTemplate string,
	callerInput map[string]string,
	transcriptionModel string,
	turnDetection TurnDetection,
	format calldata.AudioFormat,
	tools []ToolSchema,
) SessionConfig {
	codec := AudioCodecName(format)
	cfg := SessionConfig{
		Voice:             voice,
		Instructions:      interpolate(promptTemplate, callerInput),
		InputAudioFormat:  codec,
		OutputAudioFormat: codec,
		TurnDetection:     turnDetection,
		Tools:             tools,
	}
	cfg.InputAudioTranscription.Model = transcriptionModel
	return cfg
}

// interpolate substitutes {{key}} placeholders in the system prompt template
// with caller-supplied input values.
func interpolate(template string, values map[string]string) string {
	out := template
	for k, v := range values {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
